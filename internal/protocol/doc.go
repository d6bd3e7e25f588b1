// Package protocol implements the gateway wire format.
//
// # Envelope
//
// Every frame carries one JSON object:
//
//	{"op": 0, "d": {...}, "s": 42, "t": "MESSAGE_CREATE"}
//
// s and t are only present on dispatch payloads (op 0). The d field is kept
// as raw JSON; higher layers decode it according to the opcode or event name.
//
// # Opcodes
//
//   - 0 Dispatch: an event, carries t and s
//   - 1 Heartbeat: sent by the client with the last sequence (or null)
//   - 2 Identify: token, intents and client properties
//   - 3 Presence update
//   - 7 Reconnect: server asks for a fresh connection
//   - 9 Invalid session: re-identify after a short backoff
//   - 10 Hello: carries heartbeat_interval in milliseconds
//   - 11 Heartbeat ACK
//
// # Frames
//
// Text frames are always JSON. Binary frames are either JSON bytes or a zlib
// stream; Decode tries the direct form first and inflates on failure.
//
// # URLs
//
// NormalizeURL makes sure the entry URL from the REST layer carries the
// encoding and v query parameters (defaults "json" and "1").
package protocol
