// ABOUTME: Periodic liveness pulse running independently of the read loop
// ABOUTME: Exactly one driver per session; cancellation during the sleep never sends

package gateway

import (
	"context"
	"log/slog"
	"time"
)

// afterFunc returns a channel that fires once after d. Tests substitute a
// controllable clock.
type afterFunc func(d time.Duration) <-chan time.Time

type heartbeat struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// startHeartbeat runs beat every interval until the returned driver is
// stopped or beat fails.
func startHeartbeat(parent context.Context, interval time.Duration, after afterFunc, beat func(context.Context) error, logger *slog.Logger) *heartbeat {
	ctx, cancel := context.WithCancel(parent)
	h := &heartbeat{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go h.run(ctx, interval, after, beat, logger)
	return h
}

func (h *heartbeat) run(ctx context.Context, interval time.Duration, after afterFunc, beat func(context.Context) error, logger *slog.Logger) {
	defer close(h.done)

	logger.Debug("heartbeat started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-after(interval):
		}

		// The tick and the cancel can be ready together.
		if ctx.Err() != nil {
			return
		}

		if err := beat(ctx); err != nil {
			logger.Warn("heartbeat send failed, stopping driver", "error", err)
			return
		}
	}
}

// stop cancels the driver and waits for it to exit. Safe on a nil driver.
func (h *heartbeat) stop() {
	if h == nil {
		return
	}
	h.cancel()
	<-h.done
}
