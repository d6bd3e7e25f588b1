// ABOUTME: Catch-all raw event channel for every gateway dispatch, mapped or not
// ABOUTME: In-memory fan-out to subscribers with non-blocking sends

package dispatch

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// RawEventName is the handler name that receives every gateway event.
const RawEventName = "on_raw_event"

// subscriberBufferSize is the channel buffer for each raw subscriber.
const subscriberBufferSize = 64

// RawEvent is a gateway event as received: its protocol name and opaque data.
type RawEvent struct {
	Name string
	Data json.RawMessage
}

// SubscribeRaw registers a channel receiving every published RawEvent. The
// subscription ends when ctx is cancelled, on UnsubscribeRaw, or when the
// dispatcher is closed; the channel is closed in each case.
func (d *Dispatcher) SubscribeRaw(ctx context.Context) (<-chan RawEvent, string) {
	subID := uuid.New().String()
	ch := make(chan RawEvent, subscriberBufferSize)

	d.mu.Lock()
	if d.closeErr != nil {
		d.mu.Unlock()
		close(ch)
		return ch, subID
	}
	d.subscribers[subID] = ch
	d.mu.Unlock()

	d.logger.Debug("raw subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		d.UnsubscribeRaw(subID)
	}()

	return ch, subID
}

// UnsubscribeRaw removes a subscription and closes its channel.
func (d *Dispatcher) UnsubscribeRaw(subID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	ch, ok := d.subscribers[subID]
	if !ok {
		return
	}
	delete(d.subscribers, subID)
	close(ch)

	d.logger.Debug("raw subscriber removed", "sub_id", subID)
}

// PublishRaw dispatches evt under RawEventName and copies it to every raw
// subscriber. Subscribers whose buffers are full miss the event.
func (d *Dispatcher) PublishRaw(ctx context.Context, evt RawEvent) {
	d.Dispatch(ctx, RawEventName, evt)

	d.mu.Lock()
	defer d.mu.Unlock()
	for id, ch := range d.subscribers {
		select {
		case ch <- evt:
		default:
			d.logger.Debug("dropped raw event for slow subscriber",
				"sub_id", id,
				"event", evt.Name)
		}
	}
}
