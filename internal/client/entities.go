// ABOUTME: Minimal entity views decoded from dispatch payloads
// ABOUTME: Only ids and the fields needed for caching and replies are decoded; Raw keeps the rest

package client

import (
	"encoding/json"
	"errors"
)

var errMissingID = errors.New("entity has no id")

// User is a platform account.
type User struct {
	ID       string          `json:"id"`
	Username string          `json:"username"`
	Bot      bool            `json:"bot"`
	Raw      json.RawMessage `json:"-"`
}

// Message is a chat message.
type Message struct {
	ID        string          `json:"id"`
	ChannelID string          `json:"channel_id"`
	GuildID   string          `json:"guild_id,omitempty"`
	Content   string          `json:"content"`
	Author    *User           `json:"author,omitempty"`
	Raw       json.RawMessage `json:"-"`
}

// FromBot reports whether the message author is a bot account.
func (m *Message) FromBot() bool {
	return m.Author != nil && m.Author.Bot
}

// Channel is a text or voice channel.
type Channel struct {
	ID      string          `json:"id"`
	GuildID string          `json:"guild_id,omitempty"`
	Name    string          `json:"name,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

// Guild is a community server.
type Guild struct {
	ID          string          `json:"id"`
	Name        string          `json:"name,omitempty"`
	Unavailable bool            `json:"unavailable,omitempty"`
	Raw         json.RawMessage `json:"-"`
}

// MessageEdit is the payload of on_message_edit. Before is nil when the
// message was not cached.
type MessageEdit struct {
	Before *Message
	After  *Message
}

// RawMessageDelete is delivered to on_message_delete when the deleted message
// was not cached, and always to on_raw_message_delete.
type RawMessageDelete struct {
	MessageID string
	ChannelID string
	GuildID   string
	Raw       json.RawMessage
}

func parseUser(data json.RawMessage) (*User, error) {
	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		return nil, errMissingID
	}
	u.Raw = data
	return &u, nil
}

func parseMessage(data json.RawMessage) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.ID == "" {
		return nil, errMissingID
	}
	m.Raw = data
	return &m, nil
}

func parseChannel(data json.RawMessage) (*Channel, error) {
	var ch Channel
	if err := json.Unmarshal(data, &ch); err != nil {
		return nil, err
	}
	if ch.ID == "" {
		return nil, errMissingID
	}
	ch.Raw = data
	return &ch, nil
}

func parseGuild(data json.RawMessage) (*Guild, error) {
	var g Guild
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, err
	}
	if g.ID == "" {
		return nil, errMissingID
	}
	g.Raw = data
	return &g, nil
}

// parseMessageDelete accepts either "id" or "message_id".
func parseMessageDelete(data json.RawMessage) (*RawMessageDelete, error) {
	var d struct {
		ID        string `json:"id"`
		MessageID string `json:"message_id"`
		ChannelID string `json:"channel_id"`
		GuildID   string `json:"guild_id"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, err
	}
	id := d.ID
	if id == "" {
		id = d.MessageID
	}
	if id == "" {
		return nil, errMissingID
	}
	return &RawMessageDelete{
		MessageID: id,
		ChannelID: d.ChannelID,
		GuildID:   d.GuildID,
		Raw:       data,
	}, nil
}
