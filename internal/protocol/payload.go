// ABOUTME: Gateway payload codec: opcode-tagged JSON envelopes in text or binary frames
// ABOUTME: Binary frames are decoded directly first, then retried as a zlib stream

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// ErrDecode is returned when a frame is neither a valid payload nor a
// compressed stream that inflates to one.
var ErrDecode = errors.New("protocol: cannot decode frame")

// MaxInflatedSize bounds the size of a decompressed frame.
const MaxInflatedSize = 16 << 20

// Opcode identifies the kind of gateway payload.
type Opcode int

const (
	OpDispatch       Opcode = 0
	OpHeartbeat      Opcode = 1
	OpIdentify       Opcode = 2
	OpPresenceUpdate Opcode = 3
	OpReconnect      Opcode = 7
	OpInvalidSession Opcode = 9
	OpHello          Opcode = 10
	OpHeartbeatAck   Opcode = 11
)

// String returns the protocol name of the opcode.
func (o Opcode) String() string {
	switch o {
	case OpDispatch:
		return "DISPATCH"
	case OpHeartbeat:
		return "HEARTBEAT"
	case OpIdentify:
		return "IDENTIFY"
	case OpPresenceUpdate:
		return "PRESENCE_UPDATE"
	case OpReconnect:
		return "RECONNECT"
	case OpInvalidSession:
		return "INVALID_SESSION"
	case OpHello:
		return "HELLO"
	case OpHeartbeatAck:
		return "HEARTBEAT_ACK"
	default:
		return fmt.Sprintf("OP_%d", int(o))
	}
}

// Payload is a decoded gateway envelope. Seq and Type are only present on
// dispatch payloads. Payloads are not modified after decoding.
type Payload struct {
	Op   Opcode
	Seq  *int64
	Type string
	Data json.RawMessage
}

// HasSeq reports whether the payload carried a sequence number.
func (p *Payload) HasSeq() bool {
	return p.Seq != nil
}

// wirePayload is the JSON shape shared by inbound and outbound envelopes.
type wirePayload struct {
	Op   *Opcode         `json:"op"`
	Data json.RawMessage `json:"d"`
	Seq  *int64          `json:"s,omitempty"`
	Type *string         `json:"t,omitempty"`
}

// Decode turns a raw frame into a Payload. Text frames must be JSON. Binary
// frames may be plain JSON or a zlib stream, depending on the negotiated
// encoding, so the direct decode is attempted first.
func Decode(data []byte, binary bool) (*Payload, error) {
	p, err := decodeJSON(data)
	if err == nil {
		return p, nil
	}
	if !binary {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	inflated, zerr := inflate(data)
	if zerr != nil {
		return nil, fmt.Errorf("%w: %v (inflate: %v)", ErrDecode, err, zerr)
	}
	p, err = decodeJSON(inflated)
	if err != nil {
		return nil, fmt.Errorf("%w: inflated frame: %v", ErrDecode, err)
	}
	return p, nil
}

func decodeJSON(data []byte) (*Payload, error) {
	var w wirePayload
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	if w.Op == nil {
		return nil, errors.New("missing op")
	}

	p := &Payload{
		Op:   *w.Op,
		Seq:  w.Seq,
		Data: w.Data,
	}
	if w.Type != nil {
		p.Type = *w.Type
	}
	return p, nil
}

func inflate(data []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out, err := io.ReadAll(io.LimitReader(r, MaxInflatedSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > MaxInflatedSize {
		return nil, fmt.Errorf("inflated frame exceeds %d bytes", MaxInflatedSize)
	}
	return out, nil
}

// Encode serialises an outbound {op, d} envelope.
func Encode(op Opcode, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s data: %w", op, err)
	}
	return json.Marshal(wirePayload{Op: &op, Data: raw})
}

// Compress zlib-compresses an encoded payload. Used by tests and tools that
// emulate a server with compressed transport.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
