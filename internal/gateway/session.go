// ABOUTME: Gateway session state machine: handshake, heartbeats, sequence tracking and recovery
// ABOUTME: One reader goroutine per session; the live transport is reached through a guarded slot

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/2389/fluxer-go/internal/protocol"
)

const (
	DefaultHandshakeTimeout      = 30 * time.Second
	DefaultInvalidSessionBackoff = 5 * time.Second
	DefaultWriteTimeout          = 10 * time.Second

	clientName = "fluxer-go"
	noSequence = -1
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingHello
	StateIdentifying
	StateReady
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingHello:
		return "awaiting_hello"
	case StateIdentifying:
		return "identifying"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// EventSink receives every dispatch payload, READY included, on the reader
// goroutine in receipt order.
type EventSink interface {
	HandleDispatch(ctx context.Context, p *protocol.Payload)
}

// Config holds the identify credentials and session timing.
type Config struct {
	Token      string
	Intents    protocol.Intents
	Properties protocol.Properties

	// Encoding and Version fill missing query parameters of the gateway URL.
	Encoding string
	Version  string

	HandshakeTimeout      time.Duration
	InvalidSessionBackoff time.Duration
	WriteTimeout          time.Duration
}

func (c *Config) applyDefaults() {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.InvalidSessionBackoff <= 0 {
		c.InvalidSessionBackoff = DefaultInvalidSessionBackoff
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.Properties.OS == "" {
		c.Properties.OS = runtime.GOOS
	}
	if c.Properties.Browser == "" {
		c.Properties.Browser = clientName
	}
	if c.Properties.Device == "" {
		c.Properties.Device = clientName
	}
}

// Option configures a Session.
type Option func(*Session)

// WithDialer replaces the default gorilla websocket dialer.
func WithDialer(d Dialer) Option {
	return func(s *Session) {
		s.dialer = d
	}
}

// WithEventSink sets the receiver of dispatch payloads.
func WithEventSink(sink EventSink) Option {
	return func(s *Session) {
		s.sink = sink
	}
}

// WithMetrics records session metrics.
func WithMetrics(m *Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// Session is one logical gateway connection. The transport underneath may be
// replaced by server requested reconnects; the session itself is reused.
type Session struct {
	cfg      Config
	resolver URLResolver
	dialer   Dialer
	sink     EventSink
	logger   *slog.Logger
	metrics  *Metrics
	after    afterFunc

	mu         sync.Mutex
	conn       Conn // current transport slot, nil when none
	generation uint64
	hb         *heartbeat
	cancel     context.CancelFunc
	closing    bool
	sessionID  string
	user       json.RawMessage
	interval   time.Duration
	ready      chan struct{}
	readyOnce  *sync.Once
	done       chan struct{}
	err        error

	writeMu  sync.Mutex
	seq      atomic.Int64
	state    atomic.Int32
	lastBeat atomic.Int64
	lastAck  atomic.Int64
}

// New creates an idle session. Pass nil logger for default.
func New(cfg Config, resolver URLResolver, logger *slog.Logger, opts ...Option) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	done := make(chan struct{})
	close(done)

	s := &Session{
		cfg:      cfg,
		resolver: resolver,
		dialer:   &WebsocketDialer{},
		logger:   logger.With("component", "gateway"),
		after:    time.After,
		done:     done,
	}
	s.seq.Store(noSequence)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens the transport and blocks until the session is Ready, the
// handshake timeout elapses, the reader fails, or ctx is done. On failure the
// session is torn down before Connect returns and the error is an *Error.
//
// The reader keeps running after Connect returns; its fatal errors are
// reported through Done, Err and Wait.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if !s.reusableLocked() {
		s.mu.Unlock()
		return &Error{Op: "connect", Err: ErrAlreadyConnected}
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.closing = false
	s.err = nil
	s.sessionID = ""
	s.user = nil
	s.ready = make(chan struct{})
	s.readyOnce = new(sync.Once)
	s.done = make(chan struct{})
	ready, done := s.ready, s.done
	s.seq.Store(noSequence)
	s.setState(StateConnecting)
	s.mu.Unlock()

	go s.run(runCtx, done)

	timer := time.NewTimer(s.cfg.HandshakeTimeout)
	defer timer.Stop()

	select {
	case <-ready:
		s.logger.Info("gateway session ready", "session_id", s.SessionID())
		return nil
	case <-done:
		return s.connectErr()
	case <-timer.C:
		s.abort(done)
		return &Error{Op: "connect", Err: ErrHandshakeTimeout}
	case <-ctx.Done():
		s.abort(done)
		return &Error{Op: "connect", Err: ctx.Err()}
	}
}

// reusableLocked reports whether Connect may start a new run. Must be called
// with mu held.
func (s *Session) reusableLocked() bool {
	switch s.State() {
	case StateIdle:
		return true
	case StateClosed:
		select {
		case <-s.done:
			return true
		default:
			return false
		}
	}
	return false
}

func (s *Session) connectErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		return &Error{Op: "connect", Err: ErrClosed}
	}
	return s.err
}

// abort tears the session down and waits for the reader to exit.
func (s *Session) abort(done <-chan struct{}) {
	_ = s.Close()
	<-done
}

func (s *Session) run(ctx context.Context, done chan struct{}) {
	err := s.open(ctx)
	if err == nil {
		err = s.readLoop(ctx)
	}
	s.finish(err, done)
}

// open resolves the entry URL, dials it and installs the transport in the
// slot under a new generation.
func (s *Session) open(ctx context.Context) error {
	raw, err := s.resolver.GatewayURL(ctx)
	if err != nil {
		return wrap("resolve", err)
	}
	url, err := protocol.NormalizeURL(raw, s.cfg.Encoding, s.cfg.Version)
	if err != nil {
		return &Error{Op: "resolve", Err: err}
	}

	conn, err := s.dialer.Dial(ctx, url)
	if err != nil {
		return wrap("dial", err)
	}

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	s.conn = conn
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	s.advance(StateAwaitingHello)
	s.logger.Info("gateway transport open", "url", url, "generation", gen)
	return nil
}

func (s *Session) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ErrClosed
		}
		conn := s.current()
		if conn == nil {
			return &Error{Op: "read", Err: ErrTransportClosed}
		}

		mt, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ErrClosed
			}
			return &Error{Op: "read", Code: closeCode(err), Err: fmt.Errorf("%w: %w", ErrTransportClosed, err)}
		}

		p, err := protocol.Decode(data, mt == websocket.BinaryMessage)
		if err != nil {
			return &Error{Op: "decode", Err: err}
		}
		if err := s.handle(ctx, p); err != nil {
			return err
		}
	}
}

// finish records the reader's exit error, tears the session down and
// signals Done. An exit caused by Close is not an error.
func (s *Session) finish(err error, done chan struct{}) {
	s.mu.Lock()
	if s.closing {
		err = nil
	}
	s.err = err
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("gateway session failed", "error", err)
	}
	_ = s.Close()
	s.setState(StateClosed)
	close(done)
}

func (s *Session) handle(ctx context.Context, p *protocol.Payload) error {
	if p.HasSeq() && *p.Seq >= 0 {
		s.seq.Store(*p.Seq)
	}
	s.metrics.frameReceived(p.Op)

	switch p.Op {
	case protocol.OpHello:
		return s.onHello(ctx, p)
	case protocol.OpHeartbeatAck:
		s.onHeartbeatAck()
	case protocol.OpHeartbeat:
		if err := s.sendHeartbeat(ctx); err != nil {
			return &Error{Op: "heartbeat", Err: err}
		}
	case protocol.OpDispatch:
		return s.onDispatch(ctx, p)
	case protocol.OpReconnect:
		return s.reconnect(ctx)
	case protocol.OpInvalidSession:
		return s.onInvalidSession(ctx)
	default:
		s.logger.Debug("ignoring payload", "op", p.Op.String())
	}
	return nil
}

func (s *Session) onHello(ctx context.Context, p *protocol.Payload) error {
	ms, err := protocol.ParseHello(p)
	if err != nil {
		return &Error{Op: "hello", Err: err}
	}
	interval := time.Duration(ms) * time.Millisecond

	s.mu.Lock()
	prev := s.hb
	s.hb = nil
	s.interval = interval
	s.mu.Unlock()
	prev.stop()

	hb := startHeartbeat(ctx, interval, s.after, s.sendHeartbeat, s.logger)
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		hb.stop()
		return ErrClosed
	}
	s.hb = hb
	s.mu.Unlock()

	s.advance(StateIdentifying)
	return s.identify(ctx)
}

func (s *Session) identify(ctx context.Context) error {
	data, err := protocol.Identify(protocol.IdentifyData{
		Token:      s.cfg.Token,
		Intents:    s.cfg.Intents,
		Properties: s.cfg.Properties,
	})
	if err != nil {
		return &Error{Op: "identify", Err: err}
	}
	if err := s.write(ctx, data); err != nil {
		return &Error{Op: "identify", Err: err}
	}
	s.logger.Debug("identify sent", "intents", uint64(s.cfg.Intents))
	return nil
}

func (s *Session) onDispatch(ctx context.Context, p *protocol.Payload) error {
	if p.Type == "READY" {
		ready, err := protocol.ParseReady(p)
		if err != nil {
			return &Error{Op: "ready", Err: err}
		}

		s.mu.Lock()
		s.sessionID = ready.SessionID
		s.user = ready.User
		readyCh, once := s.ready, s.readyOnce
		s.mu.Unlock()

		s.advance(StateReady)
		once.Do(func() { close(readyCh) })
	}

	if s.sink != nil {
		s.sink.HandleDispatch(ctx, p)
	}
	return nil
}

func (s *Session) onHeartbeatAck() {
	now := time.Now()
	s.lastAck.Store(now.UnixNano())

	latency := -1.0
	if sent := s.lastBeat.Load(); sent > 0 {
		latency = now.Sub(time.Unix(0, sent)).Seconds()
	}
	s.metrics.heartbeatAcked(latency)
}

// onInvalidSession waits the fixed backoff and identifies again on the same
// transport.
func (s *Session) onInvalidSession(ctx context.Context) error {
	s.metrics.invalidSession()
	s.advance(StateIdentifying)
	s.logger.Warn("invalid session, identifying again", "backoff", s.cfg.InvalidSessionBackoff)

	timer := time.NewTimer(s.cfg.InvalidSessionBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ErrClosed
	case <-timer.C:
	}
	return s.identify(ctx)
}

// reconnect replaces the transport with a fresh one and keeps reading. A
// pending Connect keeps waiting on the same ready signal.
func (s *Session) reconnect(ctx context.Context) error {
	s.advance(StateReconnecting)
	s.metrics.reconnected()
	s.logger.Info("server requested reconnect")

	s.mu.Lock()
	hb, conn := s.hb, s.conn
	s.hb, s.conn = nil, nil
	s.mu.Unlock()

	hb.stop()
	if conn != nil {
		_ = conn.Close()
	}

	return s.open(ctx)
}

func (s *Session) sendHeartbeat(ctx context.Context) error {
	seq, ok := s.Sequence()
	data, err := protocol.Heartbeat(seq, ok)
	if err != nil {
		return err
	}
	if err := s.write(ctx, data); err != nil {
		return err
	}
	s.lastBeat.Store(time.Now().UnixNano())
	s.metrics.heartbeatSent()
	s.logger.Debug("heartbeat sent", "seq", seq, "has_seq", ok)
	return nil
}

func (s *Session) current() Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// write serialises one frame onto the current transport.
func (s *Session) write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	conn := s.current()
	if conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Send encodes {op, d} and writes it on the live transport. It fails with
// ErrNotConnected when no transport exists.
func (s *Session) Send(ctx context.Context, op protocol.Opcode, data any) error {
	frame, err := protocol.Encode(op, data)
	if err != nil {
		return &Error{Op: "send", Err: err}
	}
	if err := s.write(ctx, frame); err != nil {
		return &Error{Op: "send", Err: err}
	}
	return nil
}

// UpdatePresence sends a presence update.
func (s *Session) UpdatePresence(ctx context.Context, p protocol.Presence) error {
	frame, err := protocol.PresenceUpdate(p)
	if err != nil {
		return &Error{Op: "presence", Err: err}
	}
	if err := s.write(ctx, frame); err != nil {
		return &Error{Op: "presence", Err: err}
	}
	return nil
}

// Close stops the heartbeat and the reader and closes the transport. It does
// not wait for the reader, so it is safe to call from an event handler.
// Calling Close more than once is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return nil
	}
	s.closing = true
	cancel, hb, conn := s.cancel, s.hb, s.conn
	s.cancel, s.hb, s.conn = nil, nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	hb.stop()
	if conn != nil {
		if err := conn.Close(); err != nil {
			s.logger.Debug("closing transport", "error", err)
		}
	}
	s.setState(StateClosed)
	return nil
}

// Done is closed when the current run of the session has ended.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Err returns the fatal error that ended the last run, or nil when it ended
// through Close or has not ended.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Wait blocks until the session run ends or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.Done():
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sequence returns the last seen sequence number; ok is false when none has
// been observed yet.
func (s *Session) Sequence() (seq int64, ok bool) {
	seq = s.seq.Load()
	if seq == noSequence {
		return 0, false
	}
	return seq, true
}

func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// User returns the raw current user from the last READY.
func (s *Session) User() json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Session) HeartbeatInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Generation counts transports opened over the life of the session.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// LastHeartbeatAck returns when the last heartbeat ack arrived, zero if none.
func (s *Session) LastHeartbeatAck() time.Time {
	if ns := s.lastAck.Load(); ns > 0 {
		return time.Unix(0, ns)
	}
	return time.Time{}
}

func (s *Session) State() State {
	return State(s.state.Load())
}

// advance moves the reader's state forward unless Close has started, so a
// racing Close always leaves the session Closed.
func (s *Session) advance(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return
	}
	s.setState(st)
}

func (s *Session) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	s.metrics.stateChanged(st)
	if prev != st {
		s.logger.Debug("state change", "from", prev.String(), "to", st.String())
	}
}
