// ABOUTME: Routes normalised events to one handler per name and to pending waiters
// ABOUTME: Waiters resolve first in registration order; handler failures are contained

package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/eapache/queue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/2389/fluxer-go/internal/dispatch"

// Event is a decoded domain event. Payload's concrete type depends on Name.
type Event struct {
	Name    string
	Payload any
}

// Handler processes one event. Errors and panics are logged, not propagated.
type Handler func(ctx context.Context, evt Event) error

// Normalize maps an event name to its handler form: lower case with an
// "on_" prefix. "message", "MESSAGE" and "on_message" are equivalent.
func Normalize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if strings.HasPrefix(name, "on_") {
		return name
	}
	return "on_" + name
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMetrics records dispatch metrics.
func WithMetrics(m *Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

// WithTracer overrides the tracer used for dispatch spans. The default comes
// from the global OpenTelemetry provider.
func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) {
		d.tracer = t
	}
}

// Dispatcher delivers events to handlers and waiters. Dispatch is meant to be
// called from a single goroutine (the gateway reader); registration, waiting
// and raw subscriptions are safe from any goroutine.
type Dispatcher struct {
	mu          sync.Mutex
	handlers    map[string]Handler
	waiters     map[string]*queue.Queue // name -> FIFO of *waiter
	subscribers map[string]chan RawEvent
	closeErr    error

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *Metrics
}

// New creates a Dispatcher. Pass nil logger for default.
func New(logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		handlers:    make(map[string]Handler),
		waiters:     make(map[string]*queue.Queue),
		subscribers: make(map[string]chan RawEvent),
		logger:      logger.With("component", "dispatch"),
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// On installs h as the handler for name, replacing any previous one.
func (d *Dispatcher) On(name string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[Normalize(name)] = h
}

// Off removes the handler for name.
func (d *Dispatcher) Off(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.handlers, Normalize(name))
}

// HasHandler reports whether a handler is registered for name.
func (d *Dispatcher) HasHandler(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.handlers[Normalize(name)]
	return ok
}

// Dispatch delivers payload under name: every pending waiter for the name is
// evaluated in registration order, then the registered handler runs.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, payload any) {
	name = Normalize(name)
	evt := Event{Name: name, Payload: payload}

	ctx, span := d.tracer.Start(ctx, "dispatch "+name,
		trace.WithAttributes(attribute.String("fluxer.event", name)))
	defer span.End()

	d.metrics.eventDispatched(name)
	d.resolveWaiters(evt)

	d.mu.Lock()
	h := d.handlers[name]
	d.mu.Unlock()
	if h == nil {
		return
	}

	if err := invoke(ctx, h, evt); err != nil {
		herr := &HandlerError{Event: name, Err: err}
		d.metrics.handlerFailed(name)
		span.RecordError(herr)
		span.SetStatus(codes.Error, "handler failed")
		d.logger.Error("event handler failed", "event", name, "error", err)
	}
}

func invoke(ctx context.Context, h Handler, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, evt)
}

// resolveWaiters evaluates a snapshot of the waiters registered for the
// event. Predicates run without the lock held so they may call back into the
// dispatcher.
func (d *Dispatcher) resolveWaiters(evt Event) {
	d.mu.Lock()
	q, ok := d.waiters[evt.Name]
	if !ok {
		d.mu.Unlock()
		return
	}
	pending := make([]*waiter, 0, q.Length())
	for i := 0; i < q.Length(); i++ {
		pending = append(pending, q.Get(i).(*waiter))
	}
	d.mu.Unlock()

	resolved := false
	for _, w := range pending {
		if w.done() {
			continue
		}
		v, err := w.evaluate(evt)
		switch v {
		case matched:
			if w.settle(outcome{evt: evt}) {
				d.metrics.waiterResolved("matched")
				resolved = true
			}
		case failed:
			if w.settle(outcome{err: &PredicateError{Event: evt.Name, Err: err}}) {
				d.metrics.waiterResolved("predicate_error")
				resolved = true
			}
		}
	}

	if resolved {
		d.mu.Lock()
		d.pruneLocked(evt.Name)
		d.mu.Unlock()
	}
}

// pruneLocked drops settled waiters for name. Must be called with mu held.
func (d *Dispatcher) pruneLocked(name string) {
	q, ok := d.waiters[name]
	if !ok {
		return
	}
	kept := queue.New()
	for i := 0; i < q.Length(); i++ {
		if w := q.Get(i).(*waiter); !w.done() {
			kept.Add(w)
		}
	}
	if kept.Length() == 0 {
		delete(d.waiters, name)
		return
	}
	d.waiters[name] = kept
}

// WaitFor blocks until an event named name satisfies pred (nil matches any
// event), timeout elapses (zero or negative disables the timeout), or ctx is
// done. On timeout or cancellation the waiter is unregistered before
// returning. A failing predicate is returned as a *PredicateError.
//
// WaitFor must not be called from a handler: handlers run on the goroutine
// that delivers events, so the wait could never be satisfied.
func (d *Dispatcher) WaitFor(ctx context.Context, name string, pred Predicate, timeout time.Duration) (Event, error) {
	name = Normalize(name)
	w := newWaiter(pred)

	d.mu.Lock()
	if d.closeErr != nil {
		err := d.closeErr
		d.mu.Unlock()
		return Event{}, err
	}
	q, ok := d.waiters[name]
	if !ok {
		q = queue.New()
		d.waiters[name] = q
	}
	q.Add(w)
	d.mu.Unlock()
	d.metrics.waiterAdded()

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case o := <-w.result:
		return o.evt, o.err
	case <-expired:
		return d.abandon(name, w, fmt.Errorf("%w: %s after %s", ErrWaiterTimeout, name, timeout), "timeout")
	case <-ctx.Done():
		return d.abandon(name, w, ctx.Err(), "cancelled")
	}
}

// abandon unregisters w unless it was settled concurrently, in which case the
// settled outcome wins.
func (d *Dispatcher) abandon(name string, w *waiter, err error, reason string) (Event, error) {
	if !w.claimed.CompareAndSwap(false, true) {
		o := <-w.result
		return o.evt, o.err
	}
	d.mu.Lock()
	d.pruneLocked(name)
	d.mu.Unlock()
	d.metrics.waiterResolved(reason)
	return Event{}, err
}

// Pending returns the number of unresolved waiters for name.
func (d *Dispatcher) Pending(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	q, ok := d.waiters[Normalize(name)]
	if !ok {
		return 0
	}
	n := 0
	for i := 0; i < q.Length(); i++ {
		if !q.Get(i).(*waiter).done() {
			n++
		}
	}
	return n
}

// Close fails every pending waiter with ErrSessionClosed, makes later WaitFor
// calls fail the same way, and closes raw subscriptions. Safe to call more
// than once.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closeErr != nil {
		d.mu.Unlock()
		return
	}
	d.closeErr = ErrSessionClosed
	all := d.waiters
	d.waiters = make(map[string]*queue.Queue)
	subs := d.subscribers
	d.subscribers = make(map[string]chan RawEvent)
	d.mu.Unlock()

	failed := 0
	for _, q := range all {
		for i := 0; i < q.Length(); i++ {
			if q.Get(i).(*waiter).settle(outcome{err: ErrSessionClosed}) {
				d.metrics.waiterResolved("closed")
				failed++
			}
		}
	}
	for _, ch := range subs {
		close(ch)
	}

	d.logger.Debug("dispatcher closed", "failed_waiters", failed, "raw_subscribers", len(subs))
}

// Reopen clears a previous Close so the dispatcher can serve a new session.
func (d *Dispatcher) Reopen() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closeErr = nil
}
