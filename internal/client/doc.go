// Package client is the application surface over a gateway session.
//
// A Client owns one gateway.Session and one dispatch.Dispatcher and acts as
// the session's event sink. Each gateway dispatch is delivered as:
//
//  1. the mapped handler name from the fixed event table (for example
//     MESSAGE_CREATE -> on_message with a *Message), after the message,
//     channel and guild caches have been updated
//  2. the generic on_<type> name with the raw JSON data, unless it equals a
//     name already delivered or the type is READY or RESUMED
//  3. on_raw_event with a dispatch.RawEvent, for every type including ones
//     the table does not know
//
// # Payloads
//
//	on_ready                *User (nil when READY carried no user)
//	on_ready_raw            json.RawMessage
//	on_message              *Message
//	on_message_edit         *MessageEdit (Before is nil when not cached)
//	on_message_delete       *Message when cached, otherwise *RawMessageDelete
//	on_raw_message_delete   json.RawMessage
//	on_channel_*            *Channel
//	on_guild_join/update/remove  *Guild
//	everything else         json.RawMessage
//
// # Caches
//
// Messages live in a bounded LRU (default 1000). GetMessage extends a
// message's retention; lookups for "before" state do not. Channels and guilds are kept in unbounded maps,
// replaced on update and dropped on delete.
//
// # Running
//
//	c := client.New(cfg, logger)
//	c.On("message", func(ctx context.Context, evt dispatch.Event) error {
//	    msg := evt.Payload.(*client.Message)
//	    ...
//	})
//	err := c.Run(ctx)
//
// Run returns ErrLoginFailure (wrapped) when the token is rejected during
// gateway discovery or the handshake, and nil when ctx is cancelled.
package client
