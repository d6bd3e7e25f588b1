// ABOUTME: Error kinds surfaced by the dispatch and wait engine
// ABOUTME: Waiter timeouts, predicate failures, contained handler failures, session close

package dispatch

import (
	"errors"
	"fmt"
)

// ErrWaiterTimeout is returned by WaitFor when no matching event arrived in time.
var ErrWaiterTimeout = errors.New("dispatch: wait timed out")

// ErrSessionClosed is returned to pending and future waiters once the
// dispatcher has been closed.
var ErrSessionClosed = errors.New("dispatch: session closed")

// PredicateError reports that a waiter's predicate failed while evaluating an
// event. The waiter is resolved with this error instead of a result.
type PredicateError struct {
	Event string
	Err   error
}

func (e *PredicateError) Error() string {
	return fmt.Sprintf("dispatch: predicate for %s failed: %v", e.Event, e.Err)
}

func (e *PredicateError) Unwrap() error {
	return e.Err
}

// HandlerError wraps a failure (error or panic) returned by an event handler.
// It is logged and counted, never propagated to the gateway reader.
type HandlerError struct {
	Event string
	Err   error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("dispatch: handler for %s failed: %v", e.Event, e.Err)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}
