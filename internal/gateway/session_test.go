// ABOUTME: Tests for the gateway session state machine against a scripted fake transport
// ABOUTME: Covers handshake order, sequence tracking, heartbeats, recovery and teardown

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/fluxer-go/internal/protocol"
)

var errFakeClosed = errors.New("use of closed network connection")

type frame struct {
	mt   int
	data []byte
	err  error
}

// fakeConn is a scripted transport: the test pushes inbound frames and
// inspects what the session wrote.
type fakeConn struct {
	in     chan frame
	writes chan []byte
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan frame, 32),
		writes: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case f := <-c.in:
		if f.err != nil {
			return 0, nil, f.err
		}
		return f.mt, f.data, nil
	case <-c.closed:
		return 0, nil, errFakeClosed
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-c.closed:
		return errFakeClosed
	default:
	}
	cp := append([]byte(nil), data...)
	c.writes <- cp
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) push(t *testing.T, op protocol.Opcode, d any) {
	t.Helper()
	data, err := protocol.Encode(op, d)
	require.NoError(t, err)
	c.in <- frame{mt: websocket.TextMessage, data: data}
}

func (c *fakeConn) dispatch(t *testing.T, typ string, seq int64, d any) {
	t.Helper()
	data, err := json.Marshal(map[string]any{"op": 0, "s": seq, "t": typ, "d": d})
	require.NoError(t, err)
	c.in <- frame{mt: websocket.TextMessage, data: data}
}

func (c *fakeConn) fail(err error) {
	c.in <- frame{err: err}
}

// nextWrite returns the next frame the session wrote, decoded.
func (c *fakeConn) nextWrite(t *testing.T) *protocol.Payload {
	t.Helper()
	select {
	case data := <-c.writes:
		p, err := protocol.Decode(data, false)
		require.NoError(t, err)
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a write")
		return nil
	}
}

func (c *fakeConn) assertNoWrite(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case data := <-c.writes:
		t.Fatalf("unexpected write: %s", data)
	case <-time.After(wait):
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	urls  []string
	err   error
}

func (d *fakeDialer) Dial(_ context.Context, url string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.err != nil {
		return nil, d.err
	}
	if len(d.conns) == 0 {
		return nil, errors.New("no more transports")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

// fakeClock hands the heartbeat driver a tick channel the test controls.
type fakeClock struct {
	mu        sync.Mutex
	requested []time.Duration
	ticks     chan time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{ticks: make(chan time.Time)}
}

func (c *fakeClock) after(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.requested = append(c.requested, d)
	c.mu.Unlock()
	return c.ticks
}

func (c *fakeClock) tick(t *testing.T) {
	t.Helper()
	select {
	case c.ticks <- time.Now():
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat driver is not waiting")
	}
}

func (c *fakeClock) lastRequested() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requested) == 0 {
		return 0
	}
	return c.requested[len(c.requested)-1]
}

type recordingSink struct {
	mu      sync.Mutex
	events  []*protocol.Payload
	onEvent func(p *protocol.Payload)
}

func (r *recordingSink) HandleDispatch(_ context.Context, p *protocol.Payload) {
	r.mu.Lock()
	r.events = append(r.events, p)
	hook := r.onEvent
	r.mu.Unlock()
	if hook != nil {
		hook(p)
	}
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, p := range r.events {
		out = append(out, p.Type)
	}
	return out
}

func testConfig() Config {
	return Config{
		Token:                 "secret",
		Intents:               protocol.DefaultIntents(),
		HandshakeTimeout:      2 * time.Second,
		InvalidSessionBackoff: 20 * time.Millisecond,
	}
}

func newTestSession(t *testing.T, cfg Config, dialer Dialer, opts ...Option) (*Session, *fakeClock) {
	t.Helper()
	opts = append([]Option{WithDialer(dialer)}, opts...)
	s := New(cfg, StaticURL("wss://gateway.test"), nil, opts...)
	clock := newFakeClock()
	s.after = clock.after
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func connectAsync(t *testing.T, s *Session) <-chan error {
	ch := make(chan error, 1)
	go func() { ch <- s.Connect(t.Context()) }()
	return ch
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("Connect did not return")
		return nil
	}
}

var readyData = map[string]any{
	"session_id": "sess-1",
	"user":       map[string]any{"id": "42", "username": "bot"},
}

// handshake drives hello, identify and READY on conn and waits for Connect.
func handshake(t *testing.T, conn *fakeConn, connected <-chan error, intervalMS int64) {
	t.Helper()
	conn.push(t, protocol.OpHello, protocol.HelloData{HeartbeatInterval: intervalMS})
	identify := conn.nextWrite(t)
	require.Equal(t, protocol.OpIdentify, identify.Op)
	conn.dispatch(t, "READY", 1, readyData)
	require.NoError(t, waitErr(t, connected))
}

func TestConnect_HandshakeOrder(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	sink := &recordingSink{}
	s, _ := newTestSession(t, testConfig(), dialer, WithEventSink(sink))

	connected := connectAsync(t, s)

	conn.push(t, protocol.OpHello, protocol.HelloData{HeartbeatInterval: 41250})

	identify := conn.nextWrite(t)
	require.Equal(t, protocol.OpIdentify, identify.Op)
	var id protocol.IdentifyData
	require.NoError(t, json.Unmarshal(identify.Data, &id))
	assert.Equal(t, "secret", id.Token)
	assert.Equal(t, protocol.DefaultIntents(), id.Intents)
	assert.Equal(t, "fluxer-go", id.Properties.Browser)
	assert.NotEmpty(t, id.Properties.OS)
	assert.Equal(t, StateIdentifying, s.State())

	select {
	case err := <-connected:
		t.Fatalf("Connect returned before READY: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	conn.dispatch(t, "READY", 1, readyData)
	require.NoError(t, waitErr(t, connected))

	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, "sess-1", s.SessionID())
	assert.JSONEq(t, `{"id":"42","username":"bot"}`, string(s.User()))
	assert.Equal(t, 41250*time.Millisecond, s.HeartbeatInterval())

	require.Eventually(t, func() bool { return len(sink.types()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"READY"}, sink.types())

	urls := dialer.dialed()
	require.Len(t, urls, 1)
	u, err := url.Parse(urls[0])
	require.NoError(t, err)
	assert.Equal(t, "json", u.Query().Get("encoding"))
	assert.Equal(t, "1", u.Query().Get("v"))
}

func TestHeartbeat_CarriesLatestSequence(t *testing.T) {
	conn := newFakeConn()
	sink := &recordingSink{}
	s, clock := newTestSession(t, testConfig(), &fakeDialer{conns: []*fakeConn{conn}}, WithEventSink(sink))

	handshake(t, conn, connectAsync(t, s), 30000)
	assert.Equal(t, 30*time.Second, clock.lastRequested())

	for _, seq := range []int64{5, 6, 7} {
		conn.dispatch(t, "MESSAGE_CREATE", seq, map[string]any{"id": "m"})
	}
	require.Eventually(t, func() bool {
		seq, ok := s.Sequence()
		return ok && seq == 7
	}, time.Second, time.Millisecond)

	clock.tick(t)

	hb := conn.nextWrite(t)
	require.Equal(t, protocol.OpHeartbeat, hb.Op)
	assert.JSONEq(t, `7`, string(hb.Data))

	require.Eventually(t, func() bool { return len(sink.types()) == 4 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"READY", "MESSAGE_CREATE", "MESSAGE_CREATE", "MESSAGE_CREATE"}, sink.types())
}

func TestHandle_NegativeSequenceKeepsLast(t *testing.T) {
	conn := newFakeConn()
	sink := &recordingSink{}
	s, _ := newTestSession(t, testConfig(), &fakeDialer{conns: []*fakeConn{conn}}, WithEventSink(sink))
	handshake(t, conn, connectAsync(t, s), 30000)

	conn.dispatch(t, "MESSAGE_CREATE", 5, map[string]any{"id": "a"})
	conn.dispatch(t, "MESSAGE_CREATE", -1, map[string]any{"id": "b"})
	require.Eventually(t, func() bool { return len(sink.types()) == 3 }, time.Second, time.Millisecond)

	seq, ok := s.Sequence()
	require.True(t, ok)
	assert.Equal(t, int64(5), seq)
}

func TestHeartbeat_NullBeforeAnySequence(t *testing.T) {
	conn := newFakeConn()
	s, clock := newTestSession(t, testConfig(), &fakeDialer{conns: []*fakeConn{conn}})
	connected := connectAsync(t, s)

	conn.push(t, protocol.OpHello, protocol.HelloData{HeartbeatInterval: 1000})
	require.Equal(t, protocol.OpIdentify, conn.nextWrite(t).Op)

	clock.tick(t)
	hb := conn.nextWrite(t)
	require.Equal(t, protocol.OpHeartbeat, hb.Op)
	assert.Equal(t, "null", string(hb.Data))

	conn.dispatch(t, "READY", 1, readyData)
	require.NoError(t, waitErr(t, connected))
}

func TestHeartbeat_HelloRestartsDriver(t *testing.T) {
	conn := newFakeConn()
	s, clock := newTestSession(t, testConfig(), &fakeDialer{conns: []*fakeConn{conn}})
	handshake(t, conn, connectAsync(t, s), 1000)

	conn.push(t, protocol.OpHello, protocol.HelloData{HeartbeatInterval: 2000})
	require.Equal(t, protocol.OpIdentify, conn.nextWrite(t).Op)
	require.Eventually(t, func() bool { return clock.lastRequested() == 2*time.Second }, time.Second, time.Millisecond)

	// Only one driver receives the tick, so exactly one heartbeat follows.
	clock.tick(t)
	assert.Equal(t, protocol.OpHeartbeat, conn.nextWrite(t).Op)
	conn.assertNoWrite(t, 30*time.Millisecond)
}

func TestHeartbeat_InboundRequestAnsweredImmediately(t *testing.T) {
	conn := newFakeConn()
	s, _ := newTestSession(t, testConfig(), &fakeDialer{conns: []*fakeConn{conn}})
	handshake(t, conn, connectAsync(t, s), 45000)

	conn.push(t, protocol.OpHeartbeat, nil)
	hb := conn.nextWrite(t)
	assert.Equal(t, protocol.OpHeartbeat, hb.Op)
	assert.JSONEq(t, `1`, string(hb.Data))
}

func TestHeartbeatAck_Recorded(t *testing.T) {
	conn := newFakeConn()
	s, _ := newTestSession(t, testConfig(), &fakeDialer{conns: []*fakeConn{conn}})
	handshake(t, conn, connectAsync(t, s), 45000)

	assert.True(t, s.LastHeartbeatAck().IsZero())
	conn.push(t, protocol.OpHeartbeatAck, nil)
	require.Eventually(t, func() bool { return !s.LastHeartbeatAck().IsZero() }, time.Second, time.Millisecond)
	assert.Equal(t, StateReady, s.State())
}

func TestConnect_HandshakeTimeout(t *testing.T) {
	conn := newFakeConn()
	cfg := testConfig()
	cfg.HandshakeTimeout = 50 * time.Millisecond
	s, clock := newTestSession(t, cfg, &fakeDialer{conns: []*fakeConn{conn}})

	connected := connectAsync(t, s)
	conn.push(t, protocol.OpHello, protocol.HelloData{HeartbeatInterval: 1000})
	require.Equal(t, protocol.OpIdentify, conn.nextWrite(t).Op)

	err := waitErr(t, connected)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandshakeTimeout)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "connect", gerr.Op)

	assert.True(t, conn.isClosed(), "transport must be closed")
	assert.Equal(t, StateClosed, s.State())

	select {
	case clock.ticks <- time.Now():
		t.Fatal("heartbeat driver still running after handshake timeout")
	case <-time.After(50 * time.Millisecond):
	}

	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Err())
}

func TestConnect_ContextCancelled(t *testing.T) {
	conn := newFakeConn()
	s, _ := newTestSession(t, testConfig(), &fakeDialer{conns: []*fakeConn{conn}})

	ctx, cancel := context.WithCancel(t.Context())
	connected := make(chan error, 1)
	go func() { connected <- s.Connect(ctx) }()

	conn.push(t, protocol.OpHello, protocol.HelloData{HeartbeatInterval: 1000})
	require.Equal(t, protocol.OpIdentify, conn.nextWrite(t).Op)
	cancel()

	err := waitErr(t, connected)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, conn.isClosed())
}

func TestConnect_ReadFailureBeforeReady(t *testing.T) {
	conn := newFakeConn()
	s, _ := newTestSession(t, testConfig(), &fakeDialer{conns: []*fakeConn{conn}})
	connected := connectAsync(t, s)

	conn.push(t, protocol.OpHello, protocol.HelloData{HeartbeatInterval: 1000})
	require.Equal(t, protocol.OpIdentify, conn.nextWrite(t).Op)
	conn.fail(errors.New("connection reset by peer"))

	err := waitErr(t, connected)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransportClosed)
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "read", gerr.Op)
	assert.False(t, IsAuthFailure(err))
	assert.True(t, conn.isClosed())
}

func TestConnect_DecodeFailureIsFatal(t *testing.T) {
	conn := newFakeConn()
	s, _ := newTestSession(t, testConfig(), &fakeDialer{conns: []*fakeConn{conn}})
	connected := connectAsync(t, s)

	conn.in <- frame{mt: websocket.BinaryMessage, data: []byte{0xde, 0xad, 0xbe, 0xef}}

	err := waitErr(t, connected)
	assert.ErrorIs(t, err, protocol.ErrDecode)
	assert.True(t, conn.isClosed())
}

func TestConnect_CompressedFrames(t *testing.T) {
	conn := newFakeConn()
	s, _ := newTestSession(t, testConfig(), &fakeDialer{conns: []*fakeConn{conn}})
	connected := connectAsync(t, s)

	hello, err := protocol.Encode(protocol.OpHello, protocol.HelloData{HeartbeatInterval: 1000})
	require.NoError(t, err)
	compressed, err := protocol.Compress(hello)
	require.NoError(t, err)
	conn.in <- frame{mt: websocket.BinaryMessage, data: compressed}

	require.Equal(t, protocol.OpIdentify, conn.nextWrite(t).Op)
	conn.dispatch(t, "READY", 1, readyData)
	assert.NoError(t, waitErr(t, connected))
}

func TestConnect_DialAuthFailure(t *testing.T) {
	dialer := &fakeDialer{err: &Error{Op: "dial", Code: 401, Err: errors.New("bad handshake")}}
	s, _ := newTestSession(t, testConfig(), dialer)

	err := s.Connect(t.Context())
	require.Error(t, err)
	assert.True(t, IsAuthFailure(err))
	assert.Equal(t, StateClosed, s.State())
}

func TestConnect_ResolverFailure(t *testing.T) {
	s := New(testConfig(), resolverFunc(func(context.Context) (string, error) {
		return "", errors.New("gateway lookup failed")
	}), nil, WithDialer(&fakeDialer{}))

	err := s.Connect(t.Context())
	var gerr *Error
	require.ErrorAs(t, err, &gerr)
	assert.Equal(t, "resolve", gerr.Op)
}

type resolverFunc func(ctx context.Context) (string, error)

func (f resolverFunc) GatewayURL(ctx context.Context) (string, error) { return f(ctx) }

func TestConnect_RejectsConcurrentRun(t *testing.T) {
	conn := newFakeConn()
	s, _ := newTestSession(t, testConfig(), &fakeDialer{conns: []*fakeConn{conn}})
	handshake(t, conn, connectAsync(t, s), 45000)

	err := s.Connect(t.Context())
	assert.ErrorIs(t, err, ErrAlreadyConnected)
}

func TestReconnect_PreservesPendingConnect(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{first, second}}
	s, _ := newTestSession(t, testConfig(), dialer)
	connected := connectAsync(t, s)

	first.push(t, protocol.OpHello, protocol.HelloData{HeartbeatInterval: 1000})
	require.Equal(t, protocol.OpIdentify, first.nextWrite(t).Op)

	first.push(t, protocol.OpReconnect, nil)

	second.push(t, protocol.OpHello, protocol.HelloData{HeartbeatInterval: 1000})
	require.Equal(t, protocol.OpIdentify, second.nextWrite(t).Op)
	assert.True(t, first.isClosed(), "old transport must be closed")

	second.dispatch(t, "READY", 1, readyData)
	require.NoError(t, waitErr(t, connected))

	assert.Equal(t, uint64(2), s.Generation())
	assert.Len(t, dialer.dialed(), 2)

	require.NoError(t, s.Send(t.Context(), protocol.OpPresenceUpdate, map[string]any{"status": "idle"}))
	assert.Equal(t, protocol.OpPresenceUpdate, second.nextWrite(t).Op)
	first.assertNoWrite(t, 20*time.Millisecond)
}

func TestReconnect_AfterReady(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	s, _ := newTestSession(t, testConfig(), &fakeDialer{conns: []*fakeConn{first, second}})
	handshake(t, first, connectAsync(t, s), 45000)

	first.push(t, protocol.OpReconnect, nil)
	second.push(t, protocol.OpHello, protocol.HelloData{HeartbeatInterval: 45000})
	require.Equal(t, protocol.OpIdentify, second.nextWrite(t).Op)
	second.dispatch(t, "READY", 1, map[string]any{"session_id": "sess-2"})

	require.Eventually(t, func() bool { return s.SessionID() == "sess-2" }, time.Second, time.Millisecond)
	assert.Equal(t, StateReady, s.State())
	assert.NoError(t, s.Err())
}

func TestInvalidSession_ReidentifiesOnSameTransport(t *testing.T) {
	conn := newFakeConn()
	dialer := &fakeDialer{conns: []*fakeConn{conn}}
	s, _ := newTestSession(t, testConfig(), dialer)
	connected := connectAsync(t, s)

	conn.push(t, protocol.OpHello, protocol.HelloData{HeartbeatInterval: 1000})
	require.Equal(t, protocol.OpIdentify, conn.nextWrite(t).Op)

	start := time.Now()
	conn.push(t, protocol.OpInvalidSession, false)
	require.Equal(t, protocol.OpIdentify, conn.nextWrite(t).Op)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	assert.False(t, conn.isClosed())

	conn.dispatch(t, "READY", 1, readyData)
	require.NoError(t, waitErr(t, connected))
	assert.Len(t, dialer.dialed(), 1)
}

func TestFatalErrorAfterReadyIsObservable(t *testing.T) {
	conn := newFakeConn()
	s, _ := newTestSession(t, testConfig(), &fakeDialer{conns: []*fakeConn{conn}})
	handshake(t, conn, connectAsync(t, s), 45000)

	conn.fail(&websocket.CloseError{Code: CloseAuthenticationFailed, Text: "authentication failed"})

	err := s.Wait(t.Context())
	require.Error(t, err)
	assert.True(t, IsAuthFailure(err))
	assert.ErrorIs(t, err, ErrTransportClosed)
	assert.Equal(t, StateClosed, s.State())
	assert.True(t, conn.isClosed())
}

func TestSend_BeforeConnect(t *testing.T) {
	s, _ := newTestSession(t, testConfig(), &fakeDialer{})

	err := s.Send(t.Context(), protocol.OpHeartbeat, nil)
	assert.ErrorIs(t, err, ErrNotConnected)

	err = s.UpdatePresence(t.Context(), protocol.Presence{})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestUpdatePresence(t *testing.T) {
	conn := newFakeConn()
	s, _ := newTestSession(t, testConfig(), &fakeDialer{conns: []*fakeConn{conn}})
	handshake(t, conn, connectAsync(t, s), 45000)

	status := "dnd"
	require.NoError(t, s.UpdatePresence(t.Context(), protocol.Presence{Status: &status}))

	p := conn.nextWrite(t)
	require.Equal(t, protocol.OpPresenceUpdate, p.Op)
	assert.JSONEq(t, `{"status":"dnd","afk":false,"since":null,"activities":[]}`, string(p.Data))
}

func TestClose_Idempotent(t *testing.T) {
	s, _ := newTestSession(t, testConfig(), &fakeDialer{})
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
}

func TestClose_FromEventSink(t *testing.T) {
	conn := newFakeConn()
	sink := &recordingSink{}
	s, _ := newTestSession(t, testConfig(), &fakeDialer{conns: []*fakeConn{conn}}, WithEventSink(sink))
	sink.onEvent = func(p *protocol.Payload) {
		if p.Type == "GOODBYE" {
			_ = s.Close()
		}
	}
	handshake(t, conn, connectAsync(t, s), 45000)

	conn.dispatch(t, "GOODBYE", 2, nil)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
	assert.NoError(t, s.Err(), "explicit close is not an error")
	assert.True(t, conn.isClosed())
}

func TestConnect_AgainAfterClose(t *testing.T) {
	first, second := newFakeConn(), newFakeConn()
	s, _ := newTestSession(t, testConfig(), &fakeDialer{conns: []*fakeConn{first, second}})
	handshake(t, first, connectAsync(t, s), 45000)

	require.NoError(t, s.Close())
	<-s.Done()

	handshake(t, second, connectAsync(t, s), 45000)
	assert.Equal(t, StateReady, s.State())
}

func TestAdvance_NoEffectOnceClosing(t *testing.T) {
	s, _ := newTestSession(t, testConfig(), &fakeDialer{})
	require.NoError(t, s.Close())

	s.advance(StateReady)
	assert.Equal(t, StateClosed, s.State())
}

func TestClose_RacingReadyLeavesSessionReusable(t *testing.T) {
	for i := 0; i < 200; i++ {
		conn := newFakeConn()
		s, _ := newTestSession(t, testConfig(), &fakeDialer{conns: []*fakeConn{conn}})
		connected := connectAsync(t, s)

		conn.push(t, protocol.OpHello, protocol.HelloData{HeartbeatInterval: 45000})
		require.Equal(t, protocol.OpIdentify, conn.nextWrite(t).Op)
		conn.dispatch(t, "READY", 1, readyData)
		require.NoError(t, s.Close())

		_ = waitErr(t, connected)
		select {
		case <-s.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("iteration %d: reader did not exit", i)
		}

		require.Equal(t, StateClosed, s.State(), "iteration %d", i)
		s.mu.Lock()
		reusable := s.reusableLocked()
		s.mu.Unlock()
		require.True(t, reusable, "iteration %d", i)
	}
}
