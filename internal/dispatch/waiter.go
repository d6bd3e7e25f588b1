// ABOUTME: One-shot predicate-gated waiter with an exactly-once result slot
// ABOUTME: Predicate evaluation has three outcomes: no match, match, or failure

package dispatch

import (
	"fmt"
	"sync/atomic"
)

// Predicate decides whether an event satisfies a waiter. Returning an error
// resolves the waiter with a PredicateError.
type Predicate func(evt Event) (bool, error)

type verdict int

const (
	noMatch verdict = iota
	matched
	failed
)

type outcome struct {
	evt Event
	err error
}

type waiter struct {
	pred    Predicate
	result  chan outcome
	claimed atomic.Bool
}

func newWaiter(pred Predicate) *waiter {
	return &waiter{
		pred:   pred,
		result: make(chan outcome, 1),
	}
}

// settle stores o in the result slot. Only the first caller wins; later
// calls return false and drop o.
func (w *waiter) settle(o outcome) bool {
	if !w.claimed.CompareAndSwap(false, true) {
		return false
	}
	w.result <- o
	return true
}

func (w *waiter) done() bool {
	return w.claimed.Load()
}

// evaluate runs the predicate. A waiter without a predicate matches
// everything; a panicking predicate counts as a failure.
func (w *waiter) evaluate(evt Event) (v verdict, err error) {
	if w.pred == nil {
		return matched, nil
	}
	defer func() {
		if r := recover(); r != nil {
			v, err = failed, fmt.Errorf("panic: %v", r)
		}
	}()

	ok, err := w.pred(evt)
	switch {
	case err != nil:
		return failed, err
	case ok:
		return matched, nil
	default:
		return noMatch, nil
	}
}
