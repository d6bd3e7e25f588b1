// ABOUTME: Chat command handlers for fluxer-bot
// ABOUTME: Replies to !ping, !status and !guilds and runs a !confirm prompt that waits for the author's answer

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/2389/fluxer-go/internal/client"
	"github.com/2389/fluxer-go/internal/dispatch"
)

const (
	commandPrefix  = "!"
	confirmTimeout = 30 * time.Second
)

// bot holds the command handlers installed on a client.
type bot struct {
	client  *client.Client
	logger  *slog.Logger
	timeout time.Duration
}

func newBot(c *client.Client, logger *slog.Logger) *bot {
	return &bot{
		client:  c,
		logger:  logger.With("component", "bot"),
		timeout: confirmTimeout,
	}
}

// install registers the bot's handlers.
func (b *bot) install() {
	b.client.On("ready", b.onReady)
	b.client.On("message", b.onMessage)
}

func (b *bot) onReady(_ context.Context, evt dispatch.Event) error {
	if u, ok := evt.Payload.(*client.User); ok && u != nil {
		b.logger.Info("accepting commands", "prefix", commandPrefix, "as", u.Username)
	}
	return nil
}

func (b *bot) onMessage(ctx context.Context, evt dispatch.Event) error {
	msg, ok := evt.Payload.(*client.Message)
	if !ok || msg.FromBot() {
		return nil
	}
	if me := b.client.User(); me != nil && msg.Author != nil && msg.Author.ID == me.ID {
		return nil
	}

	cmd, ok := strings.CutPrefix(strings.TrimSpace(msg.Content), commandPrefix)
	if !ok {
		return nil
	}

	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return nil
	}

	switch strings.ToLower(fields[0]) {
	case "ping":
		_, err := b.client.SendMessage(ctx, msg.ChannelID, "pong")
		return err
	case "status":
		_, err := b.client.SendMessage(ctx, msg.ChannelID, formatStatus(b.client.Status()))
		return err
	case "guilds":
		_, err := b.client.SendMessage(ctx, msg.ChannelID, formatGuilds(b.client.Guilds()))
		return err
	case "confirm":
		if _, err := b.client.SendMessage(ctx, msg.ChannelID, "Reply yes or no."); err != nil {
			return err
		}
		// Handlers run on the reader; waiting here would block the reply.
		go b.awaitConfirmation(context.WithoutCancel(ctx), msg)
	}
	return nil
}

func (b *bot) awaitConfirmation(ctx context.Context, prompt *client.Message) {
	fromAuthor := func(evt dispatch.Event) (bool, error) {
		m, ok := evt.Payload.(*client.Message)
		if !ok || m.ChannelID != prompt.ChannelID || m.Author == nil || prompt.Author == nil {
			return false, nil
		}
		if m.Author.ID != prompt.Author.ID {
			return false, nil
		}
		answer := strings.ToLower(strings.TrimSpace(m.Content))
		return answer == "yes" || answer == "no", nil
	}

	evt, err := b.client.WaitFor(ctx, "message", fromAuthor, b.timeout)
	var reply string
	switch {
	case errors.Is(err, dispatch.ErrWaiterTimeout):
		reply = "Timed out."
	case err != nil:
		b.logger.Debug("confirmation abandoned", "error", err)
		return
	case strings.EqualFold(strings.TrimSpace(evt.Payload.(*client.Message).Content), "yes"):
		reply = "Confirmed."
	default:
		reply = "Cancelled."
	}

	if _, err := b.client.SendMessage(ctx, prompt.ChannelID, reply); err != nil {
		b.logger.Warn("failed to send confirmation reply", "channel_id", prompt.ChannelID, "error", err)
	}
}

func formatStatus(st client.Status) string {
	ack := "never"
	if !st.LastHeartbeatAck.IsZero() {
		ack = time.Since(st.LastHeartbeatAck).Round(time.Second).String() + " ago"
	}
	return fmt.Sprintf("state=%s connections=%d heartbeat=%s last_ack=%s guilds=%d channels=%d messages=%d/%d",
		st.State, st.Generation, st.HeartbeatInterval, ack,
		st.Guilds, st.Channels, st.CachedMessages, st.MessageCapacity)
}

func formatGuilds(guilds []*client.Guild) string {
	if len(guilds) == 0 {
		return "No guilds."
	}
	names := make([]string, 0, len(guilds))
	for _, g := range guilds {
		name := g.Name
		if name == "" {
			name = g.ID
		}
		names = append(names, name)
	}
	slices.Sort(names)
	return strings.Join(names, ", ")
}
