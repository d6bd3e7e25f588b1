// ABOUTME: End-to-end test of the session over a real gorilla websocket
// ABOUTME: Exercises URL normalisation, compressed frames, close codes and upgrade failures

package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fluxer-go/internal/protocol"
)

func TestWebsocketSession_RoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	identified := make(chan protocol.IdentifyData, 1)
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "json", r.URL.Query().Get("encoding"))
		assert.Equal(t, "1", r.URL.Query().Get("v"))

		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		hello, _ := protocol.Encode(protocol.OpHello, protocol.HelloData{HeartbeatInterval: 60000})
		if err := c.WriteMessage(websocket.TextMessage, hello); err != nil {
			return
		}

		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		p, err := protocol.Decode(data, false)
		if err != nil || p.Op != protocol.OpIdentify {
			return
		}
		var id protocol.IdentifyData
		_ = json.Unmarshal(p.Data, &id)
		identified <- id

		ready := []byte(`{"op":0,"s":1,"t":"READY","d":{"session_id":"live","user":{"id":"42"}}}`)
		compressed, _ := protocol.Compress(ready)
		if err := c.WriteMessage(websocket.BinaryMessage, compressed); err != nil {
			return
		}

		<-release
		_ = c.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseAuthenticationFailed, "authentication failed"))
		time.Sleep(50 * time.Millisecond)
	}))
	defer srv.Close()

	s := New(testConfig(), StaticURL(srv.URL), nil)
	defer s.Close()

	require.NoError(t, s.Connect(t.Context()))
	assert.Equal(t, "live", s.SessionID())

	select {
	case id := <-identified:
		assert.Equal(t, "secret", id.Token)
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw identify")
	}

	close(release)
	err := s.Wait(t.Context())
	require.Error(t, err)
	assert.True(t, IsAuthFailure(err))
}

func TestWebsocketDialer_RecordsUpgradeStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := New(testConfig(), StaticURL(srv.URL), nil)
	defer s.Close()

	err := s.Connect(t.Context())
	require.Error(t, err)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "dial", gerr.Op)
	assert.Equal(t, http.StatusUnauthorized, gerr.Code)
	assert.True(t, IsAuthFailure(err))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "awaiting_hello", StateAwaitingHello.String())
	assert.Equal(t, "state(42)", State(42).String())
}
