package mjpegcapture

import (
	"context"
	"time"
)

// StreamProvider defines the contract for MJPEG stream acquisition
//
// Implementations must guarantee:
//   - Start() returns immediately (non-blocking)
//   - TryLatest() never blocks and returns only the newest frame
//   - Stop() is idempotent (safe to call multiple times)
//   - Stats() and Connected() are thread-safe
type StreamProvider interface {
	// Start launches background ingestion and returns immediately.
	//
	// Ingestion runs until Stop() or until ctx is cancelled. Connection
	// failures, stalls and stream errors are retried forever with
	// exponential backoff; none of them is reported through Start.
	//
	// Returns an error only if the stream is already running.
	Start(ctx context.Context) error

	// Stop cancels ingestion, aborting any in-flight network read, and waits
	// up to 3 seconds for the background goroutine to exit.
	//
	// Idempotent. The stream can be started again afterwards.
	Stop() error

	// TryLatest is the consumer poll.
	//
	// Returns the most recent frame decoded since the previous call, or
	// (nil, false) when none arrived. Older undelivered frames are dropped.
	// The call also drives the liveness watchdog: when no frame has reached
	// the consumer for LivenessTimeout, ingestion is restarted.
	//
	// Example (display loop at ~60 Hz):
	//   ticker := time.NewTicker(16 * time.Millisecond)
	//   for range ticker.C {
	//       if frame, ok := stream.TryLatest(); ok {
	//           render(frame)
	//       } else if !stream.Connected() {
	//           showWaiting()
	//       }
	//   }
	TryLatest() (*Frame, bool)

	// Connected reports whether a frame reached the consumer within the
	// liveness timeout. It is derived from the liveness timestamp.
	Connected() bool

	// FrameAge returns how old the newest frame seen by the consumer is
	// (zero when no frame was seen yet).
	FrameAge() time.Duration

	// Stats returns current stream statistics.
	Stats() StreamStats

	// Warmup polls the stream for duration and measures FPS stability.
	//
	// It consumes frames that TryLatest would otherwise return. Returns an
	// error if the stream is not running, fewer than two frames arrive, or
	// the rate is unstable (stats are returned in that case too).
	Warmup(ctx context.Context, duration time.Duration) (*WarmupStats, error)
}
