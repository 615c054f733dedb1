package wiser

import "errors"

// Errors returned by the package. Every error wraps one of them so callers can
// use errors.Is.
var (
	// ErrNetwork is a HTTP or TCP transport failure.
	ErrNetwork = errors.New("network error")
	// ErrParse is a malformed document or a document with an unexpected shape.
	ErrParse = errors.New("parse error")
	// ErrConfig is a configuration mistake, like an unknown device type override.
	ErrConfig = errors.New("config error")
	// ErrProtocol is a tag received with unexpected attributes.
	ErrProtocol = errors.New("protocol error")
)
