package wiser

import (
	"bytes"
	"html"
	"io"
)

// An element growing past this size without being closed is dropped.
const maxElementSize = 64 * 1024

const readBufferSize = 4096

// TagScanner frames tags out of the control connection byte stream. Chunks
// can split an element anywhere, the scanner keeps the incomplete part until
// the next chunk arrives.
//
// Every start or self-closing element is reported as soon as its closing '>'
// is seen. End elements, text, comments and processing instructions are
// skipped, as are elements that cannot be parsed.
type TagScanner struct {
	buf []byte
}

// Feed appends the chunk to the pending input and returns the tags completed
// by it, in stream order.
func (s *TagScanner) Feed(chunk []byte) []Tag {
	s.buf = append(s.buf, chunk...)

	var tags []Tag
	for {
		start := bytes.IndexByte(s.buf, '<')
		if start < 0 {
			s.buf = s.buf[:0]
			return tags
		}
		s.buf = s.buf[start:]

		end, ok := s.elementEnd()
		if !ok {
			if len(s.buf) > maxElementSize {
				s.resync()
				continue
			}
			return tags
		}

		element := s.buf[:end]
		s.buf = s.buf[end:]
		if tag, ok := parseElement(element); ok {
			tags = append(tags, tag)
		}
	}
}

// elementEnd returns the index right after the element starting at the
// beginning of the buffer.
func (s *TagScanner) elementEnd() (int, bool) {
	if bytes.HasPrefix(s.buf, []byte("<!--")) {
		i := bytes.Index(s.buf[4:], []byte("-->"))
		if i < 0 {
			return 0, false
		}
		return 4 + i + 3, true
	}
	// A quote only opens a value right after '=', a stray one is plain text.
	var quote, previous byte
	for i := 1; i < len(s.buf); i++ {
		c := s.buf[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case (c == '"' || c == '\'') && previous == '=':
			quote = c
		case c == '>':
			return i + 1, true
		}
		if !isSpace(c) {
			previous = c
		}
	}
	return 0, false
}

// resync drops the current never-ending element and moves to the next '<'.
func (s *TagScanner) resync() {
	next := bytes.IndexByte(s.buf[1:], '<')
	if next < 0 {
		s.buf = s.buf[:0]
		return
	}
	s.buf = s.buf[1+next:]
}

// parseElement decodes "<name key="value" .../>" or "<name ...>".
func parseElement(element []byte) (Tag, bool) {
	// Strip '<' and '>'.
	body := element[1 : len(element)-1]
	if len(body) == 0 || body[0] == '/' || body[0] == '?' || body[0] == '!' {
		return Tag{}, false
	}
	body = bytes.TrimSuffix(bytes.TrimRight(body, " \t\r\n"), []byte("/"))

	nameEnd := bytes.IndexAny(body, " \t\r\n")
	if nameEnd < 0 {
		nameEnd = len(body)
	}
	name := string(body[:nameEnd])
	if name == "" {
		return Tag{}, false
	}

	attributes, ok := parseAttributes(body[nameEnd:])
	if !ok {
		return Tag{}, false
	}
	return Tag{Name: name, Attributes: attributes}, true
}

func parseAttributes(data []byte) (map[string]string, bool) {
	attributes := map[string]string{}
	i := 0
	for {
		i = skipSpaces(data, i)
		if i >= len(data) {
			return attributes, true
		}

		keyStart := i
		for i < len(data) && data[i] != '=' && !isSpace(data[i]) {
			i++
		}
		key := string(data[keyStart:i])

		i = skipSpaces(data, i)
		if key == "" || i >= len(data) || data[i] != '=' {
			return nil, false
		}
		i = skipSpaces(data, i+1)
		if i >= len(data) || (data[i] != '"' && data[i] != '\'') {
			return nil, false
		}

		quote := data[i]
		valueEnd := bytes.IndexByte(data[i+1:], quote)
		if valueEnd < 0 {
			return nil, false
		}
		attributes[key] = html.UnescapeString(string(data[i+1 : i+1+valueEnd]))
		i = i + 1 + valueEnd + 1
	}
}

func skipSpaces(data []byte, i int) int {
	for i < len(data) && isSpace(data[i]) {
		i++
	}
	return i
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n'
}

// TagReader gives the tags of a stream one by one. Next only reads from the
// underlying reader when no complete tag is pending.
type TagReader struct {
	reader  io.Reader
	scanner TagScanner
	buf     []byte
	pending []Tag
	err     error
}

func NewTagReader(reader io.Reader) *TagReader {
	return &TagReader{
		reader: reader,
		buf:    make([]byte, readBufferSize),
	}
}

// Next blocks until the next tag is complete or the reader fails. Tags already
// framed are returned before the read error.
func (r *TagReader) Next() (Tag, error) {
	for len(r.pending) == 0 {
		if r.err != nil {
			return Tag{}, r.err
		}
		n, err := r.reader.Read(r.buf)
		if n > 0 {
			r.pending = append(r.pending, r.scanner.Feed(r.buf[:n])...)
		}
		if err != nil {
			r.err = err
		}
	}
	tag := r.pending[0]
	r.pending = r.pending[1:]
	return tag, nil
}
