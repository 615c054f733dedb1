package wiser

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/rs/zerolog/log"
)

const (
	authKeyPath = "clipsal/resources/projectorkey.xml"
	projectPath = "clipsal/resources/project.xml"
)

func newHttpClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
			},
		},
	}
}

// baseURL returns the root of the hub web server, with the credentials
// embedded.
func baseURL(options *ClientOptions) *url.URL {
	host := options.Host
	if options.HttpPort > 0 {
		host = host + ":" + strconv.Itoa(options.HttpPort)
	}
	return &url.URL{
		Scheme: options.Scheme,
		User:   url.UserPassword(options.Username, options.Password),
		Host:   host,
		Path:   "/",
	}
}

// doRequest performs a GET on the hub and returns the body of the response.
func doRequest(ctx context.Context, httpClient *http.Client, options *ClientOptions, path string) ([]byte, error) {
	callUrl := baseURL(options).JoinPath(path)

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, callUrl.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: error building the request: %w", ErrNetwork, err)
	}
	request.SetBasicAuth(options.Username, options.Password)

	resp, err := httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: error doing the request: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: error reading the response: %w", ErrNetwork, err)
	}

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: error response from server, httpStatus=%d: %s", ErrNetwork, resp.StatusCode, responseBody)
	}

	log.Debug().
		Str("url", callUrl.Redacted()).
		Str("status", resp.Status).
		Msg("Response received")
	log.Trace().
		Str("body", string(responseBody)).
		Msg("Response body")

	return responseBody, nil
}
