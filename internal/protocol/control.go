// ABOUTME: Control payload shapes exchanged during the gateway handshake
// ABOUTME: Builders for heartbeat, identify and presence frames plus hello/ready data

package protocol

import (
	"encoding/json"
	"fmt"
)

// DefaultHeartbeatInterval is used when a hello omits heartbeat_interval.
const DefaultHeartbeatInterval = 45000

// Properties describes the connecting client in an identify payload.
type Properties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// IdentifyData is the d field of an identify payload.
type IdentifyData struct {
	Token      string     `json:"token"`
	Intents    Intents    `json:"intents"`
	Properties Properties `json:"properties"`
}

// Presence is the d field of a presence update payload.
type Presence struct {
	Status     *string          `json:"status"`
	AFK        bool             `json:"afk"`
	Since      *int64           `json:"since"`
	Activities []map[string]any `json:"activities"`
}

// HelloData is the d field of a hello payload.
type HelloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// ReadyData holds the fields of a READY dispatch the session cares about.
// The user is kept opaque.
type ReadyData struct {
	SessionID string          `json:"session_id"`
	User      json.RawMessage `json:"user"`
}

// Heartbeat encodes a heartbeat carrying the last sequence, or null when no
// sequence has been observed.
func Heartbeat(seq int64, ok bool) ([]byte, error) {
	if !ok {
		return Encode(OpHeartbeat, nil)
	}
	return Encode(OpHeartbeat, seq)
}

// Identify encodes an identify payload.
func Identify(d IdentifyData) ([]byte, error) {
	return Encode(OpIdentify, d)
}

// PresenceUpdate encodes a presence update payload.
func PresenceUpdate(p Presence) ([]byte, error) {
	if p.Activities == nil {
		p.Activities = []map[string]any{}
	}
	return Encode(OpPresenceUpdate, p)
}

// ParseHello extracts the heartbeat interval in milliseconds from a hello.
func ParseHello(p *Payload) (int64, error) {
	var h HelloData
	if len(p.Data) > 0 && string(p.Data) != "null" {
		if err := json.Unmarshal(p.Data, &h); err != nil {
			return 0, fmt.Errorf("%w: hello: %v", ErrDecode, err)
		}
	}
	if h.HeartbeatInterval <= 0 {
		return DefaultHeartbeatInterval, nil
	}
	return h.HeartbeatInterval, nil
}

// ParseReady extracts the session id and user from a READY dispatch.
func ParseReady(p *Payload) (ReadyData, error) {
	var r ReadyData
	if err := json.Unmarshal(p.Data, &r); err != nil {
		return r, fmt.Errorf("%w: ready: %v", ErrDecode, err)
	}
	return r, nil
}
