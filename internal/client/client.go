// ABOUTME: Application-facing client tying the gateway session, dispatcher and caches together
// ABOUTME: Exposes handler registration, waiting, presence, cache lookups and the run loop

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/2389/fluxer-go/internal/cache"
	"github.com/2389/fluxer-go/internal/dispatch"
	"github.com/2389/fluxer-go/internal/gateway"
	"github.com/2389/fluxer-go/internal/protocol"
	"github.com/2389/fluxer-go/internal/rest"
)

var (
	// ErrLoginFailure means the platform rejected the token.
	ErrLoginFailure = errors.New("client: login failure")

	// ErrMissingToken is returned by Run when no token is configured.
	ErrMissingToken = errors.New("client: token is required")
)

// Config configures a Client. Token and Intents are copied into the gateway
// and REST configuration.
type Config struct {
	Token            string
	Intents          protocol.Intents
	MessageCacheSize int
	Gateway          gateway.Config
	REST             rest.Config
}

// Option configures a Client.
type Option func(*options)

type options struct {
	dialer   gateway.Dialer
	resolver gateway.URLResolver
	registry prometheus.Registerer
}

// WithDialer replaces the websocket dialer used by the session.
func WithDialer(d gateway.Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// WithURLResolver replaces REST gateway discovery as the entry URL source.
func WithURLResolver(r gateway.URLResolver) Option {
	return func(o *options) {
		o.resolver = r
	}
}

// WithMetrics registers gateway and dispatch metrics on reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// Client receives gateway events, keeps local caches and routes events to
// handlers and waiters.
type Client struct {
	rest       *rest.Client
	session    *gateway.Session
	dispatcher *dispatch.Dispatcher

	messages *cache.LRU[string, *Message]
	channels *cache.Map[string, *Channel]
	guilds   *cache.Map[string, *Guild]
	user     atomic.Pointer[User]

	token  string
	logger *slog.Logger
}

// NormalizeToken strips a leading "Bot " or "Bearer " (any case) so the
// configured prefix is not applied twice.
func NormalizeToken(token string) string {
	token = strings.TrimSpace(token)
	lowered := strings.ToLower(token)
	switch {
	case strings.HasPrefix(lowered, "bot "):
		return strings.TrimSpace(token[len("bot "):])
	case strings.HasPrefix(lowered, "bearer "):
		return strings.TrimSpace(token[len("bearer "):])
	}
	return token
}

// New creates a Client. Pass nil logger for default.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	token := NormalizeToken(cfg.Token)
	if cfg.MessageCacheSize <= 0 {
		cfg.MessageCacheSize = cache.DefaultMessageCapacity
	}

	c := &Client{
		messages: cache.NewLRU[string, *Message](cfg.MessageCacheSize),
		channels: cache.NewMap[string, *Channel](),
		guilds:   cache.NewMap[string, *Guild](),
		token:    token,
		logger:   logger.With("component", "client"),
	}
	c.messages.OnEvict(func(id string, _ *Message) {
		c.logger.Debug("message evicted from cache", "message_id", id)
	})

	restCfg := cfg.REST
	restCfg.Token = token
	c.rest = rest.New(restCfg, logger)

	var dispatchOpts []dispatch.Option
	sessionOpts := []gateway.Option{gateway.WithEventSink(c)}
	if o.registry != nil {
		dispatchOpts = append(dispatchOpts, dispatch.WithMetrics(dispatch.NewMetrics(o.registry)))
		sessionOpts = append(sessionOpts, gateway.WithMetrics(gateway.NewMetrics(o.registry)))
	}
	if o.dialer != nil {
		sessionOpts = append(sessionOpts, gateway.WithDialer(o.dialer))
	}
	c.dispatcher = dispatch.New(logger, dispatchOpts...)

	resolver := o.resolver
	if resolver == nil {
		resolver = c.rest
	}
	gwCfg := cfg.Gateway
	gwCfg.Token = token
	gwCfg.Intents = cfg.Intents
	c.session = gateway.New(gwCfg, resolver, logger, sessionOpts...)

	return c
}

// On installs handler for the event name ("message", "on_message" and
// "MESSAGE" are the same name). Each name holds one handler.
func (c *Client) On(name string, handler dispatch.Handler) {
	c.dispatcher.On(name, handler)
}

// Off removes the handler for name.
func (c *Client) Off(name string) {
	c.dispatcher.Off(name)
}

// WaitFor blocks until the next event named name satisfies pred. See
// dispatch.Dispatcher.WaitFor; it must not be called from a handler.
func (c *Client) WaitFor(ctx context.Context, name string, pred dispatch.Predicate, timeout time.Duration) (dispatch.Event, error) {
	return c.dispatcher.WaitFor(ctx, name, pred, timeout)
}

// PendingWaiters reports how many WaitFor calls are waiting on name.
func (c *Client) PendingWaiters(name string) int {
	return c.dispatcher.Pending(name)
}

// SubscribeRaw returns a channel receiving every gateway event.
func (c *Client) SubscribeRaw(ctx context.Context) (<-chan dispatch.RawEvent, string) {
	return c.dispatcher.SubscribeRaw(ctx)
}

// PresenceOptions describes a presence change.
type PresenceOptions struct {
	Status   string
	Activity map[string]any
	AFK      bool
	Since    *int64
}

// ChangePresence updates the bot's presence on the live session.
func (c *Client) ChangePresence(ctx context.Context, opts PresenceOptions) error {
	p := protocol.Presence{
		AFK:   opts.AFK,
		Since: opts.Since,
	}
	if opts.Status != "" {
		status := opts.Status
		p.Status = &status
	}
	if opts.Activity != nil {
		p.Activities = []map[string]any{opts.Activity}
	}
	return c.session.UpdatePresence(ctx, p)
}

// SendMessage posts content to a channel through the REST API.
func (c *Client) SendMessage(ctx context.Context, channelID, content string) (*Message, error) {
	raw, err := c.rest.CreateMessage(ctx, channelID, content)
	if err != nil {
		return nil, err
	}
	msg, err := parseMessage(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding created message: %w", err)
	}
	return msg, nil
}

// FetchChannel loads a channel from the REST API and caches it.
func (c *Client) FetchChannel(ctx context.Context, channelID string) (*Channel, error) {
	raw, err := c.rest.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}
	ch, err := parseChannel(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding channel: %w", err)
	}
	c.channels.Put(ch.ID, ch)
	return ch, nil
}

// GetMessage returns a cached message and marks it most recently used.
// Edit and delete events read prior state without touching it.
func (c *Client) GetMessage(id string) (*Message, bool) {
	return c.messages.Touch(id)
}

// GetChannel returns a cached channel.
func (c *Client) GetChannel(id string) (*Channel, bool) {
	return c.channels.Get(id)
}

// GetGuild returns a cached guild.
func (c *Client) GetGuild(id string) (*Guild, bool) {
	return c.guilds.Get(id)
}

// Guilds returns every cached guild.
func (c *Client) Guilds() []*Guild {
	return c.guilds.Values()
}

// User returns the logged in user, nil before READY.
func (c *Client) User() *User {
	return c.user.Load()
}

// State returns the gateway session state.
func (c *Client) State() gateway.State {
	return c.session.State()
}

// Status is a point-in-time summary of the client's session and caches.
type Status struct {
	State             gateway.State
	Generation        uint64
	HeartbeatInterval time.Duration
	LastHeartbeatAck  time.Time
	Guilds            int
	Channels          int
	CachedMessages    int
	MessageCapacity   int
}

// Status reports the session state and cache occupancy.
func (c *Client) Status() Status {
	return Status{
		State:             c.session.State(),
		Generation:        c.session.Generation(),
		HeartbeatInterval: c.session.HeartbeatInterval(),
		LastHeartbeatAck:  c.session.LastHeartbeatAck(),
		Guilds:            c.guilds.Len(),
		Channels:          c.channels.Len(),
		CachedMessages:    c.messages.Len(),
		MessageCapacity:   c.messages.Capacity(),
	}
}

// SessionUser returns the raw user from the last READY.
func (c *Client) SessionUser() json.RawMessage {
	return c.session.User()
}

// Run connects and blocks until the session ends or ctx is done. Rejected
// credentials are reported as ErrLoginFailure. Cancelling ctx closes the
// client, waits for the reader to exit and returns nil.
func (c *Client) Run(ctx context.Context) error {
	if c.token == "" {
		return ErrMissingToken
	}

	c.dispatcher.Reopen()
	c.logger.Info("starting client")

	if err := c.session.Connect(ctx); err != nil {
		c.dispatcher.Close()
		if ctx.Err() != nil {
			return nil
		}
		return loginError(err)
	}

	select {
	case <-c.session.Done():
		err := c.session.Err()
		c.dispatcher.Close()
		if err != nil {
			return loginError(err)
		}
		return nil
	case <-ctx.Done():
		c.logger.Info("shutting down client")
		err := c.Close()
		<-c.session.Done()
		return err
	}
}

func loginError(err error) error {
	if gateway.IsAuthFailure(err) || rest.IsAuthFailure(err) {
		return fmt.Errorf("%w: %w", ErrLoginFailure, err)
	}
	return err
}

// Close closes the session and fails pending waiters with
// dispatch.ErrSessionClosed. Safe to call from a handler.
func (c *Client) Close() error {
	err := c.session.Close()
	c.dispatcher.Close()
	return err
}
