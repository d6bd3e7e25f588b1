// ABOUTME: Fixed table mapping gateway event types to handler names and payload builders
// ABOUTME: Builders update the entity caches before anything is dispatched

package client

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/2389/fluxer-go/internal/dispatch"
	"github.com/2389/fluxer-go/internal/protocol"
)

// route describes how one gateway event type is delivered. build turns the
// raw data into the payload for name and applies cache updates. When raw is
// set the unmodified data is also dispatched under that name.
type route struct {
	name  string
	build func(c *Client, data json.RawMessage) (any, error)
	raw   string
}

func passthrough(_ *Client, data json.RawMessage) (any, error) {
	return data, nil
}

func opaque(name string) route {
	return route{name: name, build: passthrough}
}

var routes = map[string]route{
	"READY":   {name: "on_ready", build: (*Client).onReady, raw: "on_ready_raw"},
	"RESUMED": opaque("on_resumed"),

	"MESSAGE_CREATE":      {name: "on_message", build: (*Client).onMessageCreate},
	"MESSAGE_UPDATE":      {name: "on_message_edit", build: (*Client).onMessageUpdate},
	"MESSAGE_DELETE":      {name: "on_message_delete", build: (*Client).onMessageDelete, raw: "on_raw_message_delete"},
	"MESSAGE_DELETE_BULK": {name: "on_bulk_message_delete", build: (*Client).onMessageDeleteBulk, raw: "on_raw_bulk_message_delete"},

	"MESSAGE_REACTION_ADD":          opaque("on_reaction_add"),
	"MESSAGE_REACTION_REMOVE":       opaque("on_reaction_remove"),
	"MESSAGE_REACTION_REMOVE_ALL":   opaque("on_reaction_clear"),
	"MESSAGE_REACTION_REMOVE_EMOJI": opaque("on_reaction_clear_emoji"),

	"CHANNEL_CREATE": {name: "on_channel_create", build: (*Client).onChannelUpsert},
	"CHANNEL_UPDATE": {name: "on_channel_update", build: (*Client).onChannelUpsert},
	"CHANNEL_DELETE": {name: "on_channel_delete", build: (*Client).onChannelDelete},

	"GUILD_CREATE": {name: "on_guild_join", build: (*Client).onGuildUpsert},
	"GUILD_UPDATE": {name: "on_guild_update", build: (*Client).onGuildUpsert},
	"GUILD_DELETE": {name: "on_guild_remove", build: (*Client).onGuildDelete},

	"GUILD_MEMBER_ADD":    opaque("on_member_join"),
	"GUILD_MEMBER_UPDATE": opaque("on_member_update"),
	"GUILD_MEMBER_REMOVE": opaque("on_member_remove"),

	"GUILD_ROLE_CREATE": opaque("on_guild_role_create"),
	"GUILD_ROLE_UPDATE": opaque("on_guild_role_update"),
	"GUILD_ROLE_DELETE": opaque("on_guild_role_delete"),

	"GUILD_EMOJIS_UPDATE":   opaque("on_guild_emojis_update"),
	"GUILD_STICKERS_UPDATE": opaque("on_guild_stickers_update"),

	"INVITE_CREATE": opaque("on_invite_create"),
	"INVITE_DELETE": opaque("on_invite_delete"),

	"PRESENCE_UPDATE":     opaque("on_presence_update"),
	"VOICE_STATE_UPDATE":  opaque("on_voice_state_update"),
	"VOICE_SERVER_UPDATE": opaque("on_voice_server_update"),

	"CALL_CREATE": opaque("on_call_create"),
	"CALL_UPDATE": opaque("on_call_update"),
	"CALL_DELETE": opaque("on_call_delete"),

	"TYPING_START":    opaque("on_typing"),
	"WEBHOOKS_UPDATE": opaque("on_webhooks_update"),

	"RELATIONSHIP_ADD":    opaque("on_relationship_add"),
	"RELATIONSHIP_UPDATE": opaque("on_relationship_update"),
	"RELATIONSHIP_REMOVE": opaque("on_relationship_remove"),

	"READ_STATE_UPDATE": opaque("on_read_state_update"),
}

// noGeneric lists event types that are only delivered through their route.
var noGeneric = map[string]bool{
	"READY":   true,
	"RESUMED": true,
}

// HandleDispatch delivers one gateway dispatch: the mapped handler name
// first (after cache updates), then the generic on_<type> name, then the raw
// channel. A name is never dispatched twice for the same event.
func (c *Client) HandleDispatch(ctx context.Context, p *protocol.Payload) {
	typ := p.Type
	delivered := make(map[string]bool, 3)

	if r, ok := routes[typ]; ok {
		payload, err := r.build(c, p.Data)
		if err != nil {
			c.logger.Warn("malformed event payload", "event", typ, "error", err)
		} else {
			c.dispatcher.Dispatch(ctx, r.name, payload)
			delivered[r.name] = true
		}
		if r.raw != "" {
			c.dispatcher.Dispatch(ctx, r.raw, p.Data)
			delivered[r.raw] = true
		}
	}

	if typ != "" && !noGeneric[typ] {
		generic := dispatch.Normalize(strings.ToLower(typ))
		if !delivered[generic] {
			c.dispatcher.Dispatch(ctx, generic, p.Data)
		}
	}

	c.dispatcher.PublishRaw(ctx, dispatch.RawEvent{Name: typ, Data: p.Data})
}

func (c *Client) onReady(data json.RawMessage) (any, error) {
	var ready struct {
		User json.RawMessage `json:"user"`
	}
	if err := json.Unmarshal(data, &ready); err != nil {
		return nil, err
	}
	if len(ready.User) == 0 || string(ready.User) == "null" {
		return (*User)(nil), nil
	}
	u, err := parseUser(ready.User)
	if err != nil {
		return nil, err
	}
	c.user.Store(u)
	c.logger.Info("logged in", "user", u.Username, "user_id", u.ID)
	return u, nil
}

func (c *Client) onMessageCreate(data json.RawMessage) (any, error) {
	msg, err := parseMessage(data)
	if err != nil {
		return nil, err
	}
	c.messages.Put(msg.ID, msg)
	return msg, nil
}

// onMessageUpdate reads the cached copy without touching its recency, then
// stores the new version.
func (c *Client) onMessageUpdate(data json.RawMessage) (any, error) {
	after, err := parseMessage(data)
	if err != nil {
		return nil, err
	}
	before, _ := c.messages.Get(after.ID)
	c.messages.Put(after.ID, after)
	return &MessageEdit{Before: before, After: after}, nil
}

// onMessageDelete delivers the cached message when there is one, otherwise
// the raw delete notice.
func (c *Client) onMessageDelete(data json.RawMessage) (any, error) {
	del, err := parseMessageDelete(data)
	if err != nil {
		return nil, err
	}
	if cached, ok := c.messages.Pop(del.MessageID); ok {
		return cached, nil
	}
	return del, nil
}

func (c *Client) onMessageDeleteBulk(data json.RawMessage) (any, error) {
	var bulk struct {
		IDs []string `json:"ids"`
	}
	if err := json.Unmarshal(data, &bulk); err == nil {
		for _, id := range bulk.IDs {
			c.messages.Pop(id)
		}
	}
	return data, nil
}

func (c *Client) onChannelUpsert(data json.RawMessage) (any, error) {
	ch, err := parseChannel(data)
	if err != nil {
		return nil, err
	}
	c.channels.Put(ch.ID, ch)
	return ch, nil
}

func (c *Client) onChannelDelete(data json.RawMessage) (any, error) {
	ch, err := parseChannel(data)
	if err != nil {
		return nil, err
	}
	c.channels.Delete(ch.ID)
	return ch, nil
}

func (c *Client) onGuildUpsert(data json.RawMessage) (any, error) {
	g, err := parseGuild(data)
	if err != nil {
		return nil, err
	}
	c.guilds.Put(g.ID, g)
	return g, nil
}

func (c *Client) onGuildDelete(data json.RawMessage) (any, error) {
	g, err := parseGuild(data)
	if err != nil {
		return nil, err
	}
	c.guilds.Delete(g.ID)
	return g, nil
}
