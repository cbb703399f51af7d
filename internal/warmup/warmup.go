// Package warmup measures the frame rate a consumer actually observes.
package warmup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultPollInterval is how often Measure polls for a new frame. It is well
// under the frame period of any camera this module targets.
const DefaultPollInterval = 5 * time.Millisecond

// ErrUnstable is returned (wrapped) alongside the stats when the measured
// rate fails the stability thresholds.
var ErrUnstable = errors.New("warmup: stream FPS unstable")

// Sample is the part of a frame warmup cares about.
type Sample struct {
	Seq       uint64
	Timestamp time.Time
}

// PollFunc is a non-blocking "give me a new frame if there is one".
type PollFunc func() (Sample, bool)

// Measure polls for duration and computes statistics from the timestamps of
// the frames it saw.
//
// Returns an error if ctx is cancelled, fewer than two frames arrive, or the
// stream is unstable. In the unstable case the stats are returned too, so the
// caller can decide whether to proceed.
func Measure(ctx context.Context, poll PollFunc, duration, interval time.Duration) (*Stats, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	slog.Info("warmup: starting stream warm-up",
		"duration", duration,
		"reason", "measure real FPS as seen by the consumer",
	)

	startTime := time.Now()
	frameTimes := make([]time.Time, 0, 128)

	deadline := time.NewTimer(duration)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

collect:
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("warmup: %w", ctx.Err())
		case <-deadline.C:
			break collect
		case <-ticker.C:
			s, ok := poll()
			if !ok {
				continue
			}
			frameTimes = append(frameTimes, s.Timestamp)
			slog.Debug("warmup: frame received",
				"seq", s.Seq,
				"frames_collected", len(frameTimes),
			)
		}
	}

	elapsed := time.Since(startTime)

	if len(frameTimes) < 2 {
		return nil, fmt.Errorf(
			"warmup: not enough frames received (got %d, need at least 2)",
			len(frameTimes),
		)
	}

	stats := CalculateFPSStats(frameTimes, elapsed)

	slog.Info("warmup: stream warm-up complete",
		"frames", stats.FramesReceived,
		"duration", stats.Duration,
		"fps_mean", fmt.Sprintf("%.2f", stats.FPSMean),
		"fps_stddev", fmt.Sprintf("%.2f", stats.FPSStdDev),
		"fps_range", fmt.Sprintf("%.1f-%.1f", stats.FPSMin, stats.FPSMax),
		"jitter_mean", fmt.Sprintf("%.3fs", stats.JitterMean),
		"stable", stats.IsStable,
	)

	if !stats.IsStable {
		return stats, fmt.Errorf("%w (mean=%.2f Hz, stddev=%.2f, jitter=%.3fs)",
			ErrUnstable, stats.FPSMean, stats.FPSStdDev, stats.JitterMean)
	}

	return stats, nil
}
