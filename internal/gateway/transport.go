// ABOUTME: Streaming transport abstraction over a websocket connection
// ABOUTME: Gorilla websocket dialer that records the upgrade status on failure

package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/fluxer-go/internal/protocol"
)

// Conn is one live transport. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Dialer opens a transport to a gateway URL.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// URLResolver supplies the gateway entry URL, typically from the REST API.
type URLResolver interface {
	GatewayURL(ctx context.Context) (string, error)
}

// StaticURL is a URLResolver that always returns itself.
type StaticURL string

func (u StaticURL) GatewayURL(context.Context) (string, error) {
	return string(u), nil
}

// WebsocketDialer dials gateways with gorilla/websocket.
type WebsocketDialer struct {
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer
	Header http.Header
}

// Dial opens a websocket. A rejected upgrade is returned as an *Error with
// the HTTP status as Code.
func (d *WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		gerr := &Error{Op: "dial", Err: err}
		if resp != nil {
			gerr.Code = resp.StatusCode
		}
		return nil, gerr
	}
	conn.SetReadLimit(protocol.MaxInflatedSize)
	return conn, nil
}

// closeCode extracts the close code from a transport read error.
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}
