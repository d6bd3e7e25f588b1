// ABOUTME: Error types for non-success REST responses
// ABOUTME: HTTPError keeps the status so auth failures can be detected

package rest

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNoGatewayURL is returned when /gateway/bot answers without a url.
var ErrNoGatewayURL = errors.New("rest: gateway url missing from /gateway/bot response")

// HTTPError is a non-2xx response.
type HTTPError struct {
	Method  string
	Path    string
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s %s returned %d: %s", e.Method, e.Path, e.Status, e.Message)
	}
	return fmt.Sprintf("%s %s returned %d", e.Method, e.Path, e.Status)
}

// IsAuthFailure reports whether err is a 401 or 403 response.
func IsAuthFailure(err error) bool {
	var herr *HTTPError
	if !errors.As(err, &herr) {
		return false
	}
	return herr.Status == http.StatusUnauthorized || herr.Status == http.StatusForbidden
}
