// ABOUTME: Typed gateway errors carrying the failing operation and a status or close code
// ABOUTME: Lets callers tell authentication failures apart from transient transport failures

package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrHandshakeTimeout means no READY arrived within the handshake bound.
	ErrHandshakeTimeout = errors.New("gateway: handshake timed out")

	// ErrTransportClosed means the transport closed or failed unexpectedly.
	ErrTransportClosed = errors.New("gateway: transport closed")

	// ErrNotConnected is returned by writes attempted while no transport exists.
	ErrNotConnected = errors.New("gateway: not connected")

	// ErrClosed means the session was closed explicitly.
	ErrClosed = errors.New("gateway: session closed")

	// ErrAlreadyConnected is returned by Connect on a session that is running.
	ErrAlreadyConnected = errors.New("gateway: session already running")
)

// CloseAuthenticationFailed is the close code sent when the identify token is
// rejected.
const CloseAuthenticationFailed = 4004

// Error is a fatal session error. Code holds the HTTP status of a failed
// upgrade or the close code of a closed transport, zero when neither applies.
type Error struct {
	Op   string
	Code int
	Err  error
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("gateway %s (code %d): %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsAuthFailure reports whether err was caused by rejected credentials, as
// opposed to a transient network failure worth retrying.
func IsAuthFailure(err error) bool {
	var gerr *Error
	if !errors.As(err, &gerr) {
		return false
	}
	switch gerr.Code {
	case http.StatusUnauthorized, http.StatusForbidden, CloseAuthenticationFailed:
		return true
	}
	return false
}

// wrap returns err unchanged when it is already an *Error, otherwise wraps it
// under op.
func wrap(op string, err error) error {
	var gerr *Error
	if errors.As(err, &gerr) {
		return err
	}
	return &Error{Op: op, Err: err}
}
