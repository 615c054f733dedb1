package wiser

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
)

const authKeyElement = "cbus_auth_data"

type authKeyDocument struct {
	XMLName xml.Name
	Value   string `xml:"value,attr"`
}

// FetchAuthKey retrieves the session key needed to authenticate the control
// connection. A new key must be fetched before every connection.
func FetchAuthKey(ctx context.Context, httpClient *http.Client, options *ClientOptions) (string, error) {
	body, err := doRequest(ctx, httpClient, options, authKeyPath)
	if err != nil {
		return "", fmt.Errorf("error fetching auth key: %w", err)
	}
	return decodeAuthKey(body)
}

func decodeAuthKey(body []byte) (string, error) {
	var document authKeyDocument
	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(&document); err != nil {
		return "", fmt.Errorf("%w: error decoding auth key response: %w", ErrParse, err)
	}
	if document.XMLName.Local != authKeyElement {
		return "", fmt.Errorf("%w: unexpected root element %s in auth key response", ErrParse, document.XMLName.Local)
	}
	if document.Value == "" {
		return "", fmt.Errorf("%w: no 'value' attribute in auth key response", ErrParse)
	}
	return document.Value, nil
}
