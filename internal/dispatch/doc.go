// Package dispatch fans decoded events out to handlers and one-shot waiters.
//
// # Names
//
// Event names are normalised to the handler form "on_<name>" in lower case,
// so On("message", ...), On("MESSAGE", ...) and On("on_message", ...) all
// register the same slot. There is exactly one handler per name.
//
// # Delivery order
//
// For each Dispatch call:
//
//  1. Pending waiters for the name are evaluated in registration order.
//     Every waiter is evaluated, so a match on one never hides the event
//     from the others. A predicate has three outcomes: no match (waiter
//     stays), match (waiter resolves with the event), failure (waiter
//     resolves with a *PredicateError).
//  2. The handler for the name runs. Errors and panics become a
//     *HandlerError that is logged and counted; the next event is still
//     delivered.
//
// Callers update local caches before calling Dispatch, so handlers looking
// up "before" state see values no newer than the event being delivered.
//
// # Waiting
//
//	evt, err := d.WaitFor(ctx, "message", func(e dispatch.Event) (bool, error) {
//	    return e.Payload.(*client.Message).Content == "yes", nil
//	}, 30*time.Second)
//
// On timeout the waiter is removed and an error wrapping ErrWaiterTimeout is
// returned. Close fails pending waiters with ErrSessionClosed.
//
// # Raw events
//
// PublishRaw delivers every gateway event under RawEventName and copies it
// to SubscribeRaw channels, including event types the client does not map.
package dispatch
