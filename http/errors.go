package http

import (
	"errors"
	"fmt"
	"net/http"
)

// TransportError reports a failed fetch. StatusCode is the final HTTP status,
// or 0 when no response was received (DNS, connect, TLS, breaker open).
type TransportError struct {
	StatusCode int
	URL        string
	Message    string

	// Header holds the response headers when a response was received
	Header http.Header

	Err error
}

func (e *TransportError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("fetching %s failed: %s", e.URL, e.Message)
	}
	return fmt.Sprintf("fetching %s failed with status %d: %s", e.URL, e.StatusCode, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusOf returns the HTTP status carried by a TransportError in err's
// chain, or 0.
func StatusOf(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.StatusCode
	}
	return 0
}

// IsNotModified reports whether err is a 304 response to a conditional request.
func IsNotModified(err error) bool {
	return StatusOf(err) == http.StatusNotModified
}
