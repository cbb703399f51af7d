package mjpeg

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// ReconnectConfig bounds the exponential backoff between sessions.
type ReconnectConfig struct {
	MinDelay time.Duration // Initial delay and reset value (default: 100ms)
	MaxDelay time.Duration // Delay cap (default: 5s)
}

// DefaultReconnectConfig returns default reconnection configuration
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		MinDelay: 100 * time.Millisecond,
		MaxDelay: 5 * time.Second,
	}
}

// Backoff is the exponential delay between failed sessions.
//
// Safe for concurrent reads; only the reconnect loop mutates it.
type Backoff struct {
	min     time.Duration
	max     time.Duration
	current atomic.Int64
}

// NewBackoff returns a backoff starting at cfg.MinDelay.
func NewBackoff(cfg ReconnectConfig) *Backoff {
	def := DefaultReconnectConfig()
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = def.MinDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}

	b := &Backoff{min: cfg.MinDelay, max: cfg.MaxDelay}
	b.current.Store(int64(cfg.MinDelay))
	return b
}

// Current returns the delay the next failure will wait.
func (b *Backoff) Current() time.Duration {
	return time.Duration(b.current.Load())
}

// Fail returns the delay to wait after a failure and doubles the next one,
// capped at the maximum. After N failures Current is min(min*2^N, max).
func (b *Backoff) Fail() time.Duration {
	delay := b.Current()
	next := delay * 2
	if next > b.max || next <= 0 {
		next = b.max
	}
	b.current.Store(int64(next))
	return delay
}

// Reset puts the delay back to the minimum.
func (b *Backoff) Reset() {
	b.current.Store(int64(b.min))
}

// ReconnectState tracks reconnection across sessions.
type ReconnectState struct {
	Backoff    *Backoff
	Reconnects *uint32 // Atomic counter for total reconnection attempts
}

// AttemptFunc runs one session to completion.
type AttemptFunc func(ctx context.Context) Outcome

// RunWithReconnect runs attempt in an unbounded loop until ctx is cancelled.
//
// Backoff policy:
//   - A session that handed out at least one frame resets the backoff to the
//     minimum, and the next attempt starts after that minimum delay.
//   - Any other ending (connect error, bad status, stream error or stall
//     before the first frame) waits the current delay, then doubles it.
//
// There is no retry limit. The only return value is ctx.Err().
func RunWithReconnect(
	ctx context.Context,
	attempt AttemptFunc,
	state *ReconnectState,
) error {
	for {
		// Check context before attempting connection
		if err := ctx.Err(); err != nil {
			slog.Debug("mjpeg: context cancelled, stopping reconnection")
			return err
		}

		out := attempt(ctx)

		if err := ctx.Err(); err != nil {
			slog.Debug("mjpeg: context cancelled, stopping reconnection")
			return err
		}

		var delay time.Duration
		if out.Frames > 0 {
			state.Backoff.Reset()
			delay = state.Backoff.Current()
		} else {
			delay = state.Backoff.Fail()
		}

		reconnects := atomic.AddUint32(state.Reconnects, 1)

		slog.Info("mjpeg: reconnecting",
			"session_id", out.ID,
			"reason", out.Reason.String(),
			"frames", out.Frames,
			"delay", delay,
			"next_delay", state.Backoff.Current(),
			"reconnects", reconnects,
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			slog.Debug("mjpeg: context cancelled during backoff")
			return ctx.Err()
		}
	}
}
