package mjpegcapture

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/health"
	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/mailbox"
	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/mjpeg"
	"github.com/e7canasta/orion-care-sensor/modules/mjpeg-capture/internal/warmup"
)

// defaultStopTimeout bounds how long Stop waits for the ingestion goroutine.
const defaultStopTimeout = 3 * time.Second

// MJPEGStream implements StreamProvider for MJPEG over HTTP
type MJPEGStream struct {
	// Configuration
	url          string
	sourceStream string
	stallTimeout time.Duration
	maxBuffer    int
	client       *http.Client
	decoder      mjpeg.Decoder

	// Frame hand-off and consumer-side liveness
	frames  *mailbox.Mailbox[*Frame]
	monitor *health.Monitor

	// Lifecycle
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
	started time.Time

	stopTimeout time.Duration

	// genCancel cancels the current ingestion generation (forced restart).
	// Guarded by genMu rather than mu: Stop holds mu while waiting for the
	// goroutine that writes it.
	genMu     sync.Mutex
	genCancel context.CancelFunc

	// Statistics (atomic for thread-safety)
	frameCount uint64
	restarts   uint64
	telemetry  mjpeg.Telemetry
	errors     mjpeg.ErrorCounters

	// Reconnection state
	reconnectState *mjpeg.ReconnectState
}

var _ StreamProvider = (*MJPEGStream)(nil)

// NewMJPEGStream creates a new MJPEG stream with fail-fast validation
//
// Validates configuration at construction time:
//   - URL must not be empty, must parse, scheme must be http or https
//   - Timeouts and sizes must not be negative
//
// Zero values select defaults (see MJPEGConfig).
func NewMJPEGStream(cfg MJPEGConfig) (*MJPEGStream, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("mjpeg-capture: stream URL is required")
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("mjpeg-capture: invalid stream URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("mjpeg-capture: unsupported URL scheme %q (must be http or https)", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("mjpeg-capture: stream URL %q has no host", cfg.URL)
	}

	for name, d := range map[string]time.Duration{
		"request timeout":  cfg.RequestTimeout,
		"keepalive":        cfg.KeepAlive,
		"stall timeout":    cfg.StallTimeout,
		"liveness timeout": cfg.LivenessTimeout,
		"min backoff":      cfg.MinBackoff,
		"max backoff":      cfg.MaxBackoff,
	} {
		if d < 0 {
			return nil, fmt.Errorf("mjpeg-capture: invalid %s %v (must not be negative)", name, d)
		}
	}
	if cfg.MaxBufferSize < 0 {
		return nil, fmt.Errorf("mjpeg-capture: invalid max buffer size %d (must not be negative)", cfg.MaxBufferSize)
	}
	if cfg.MinBackoff > 0 && cfg.MaxBackoff > 0 && cfg.MaxBackoff < cfg.MinBackoff {
		return nil, fmt.Errorf("mjpeg-capture: max backoff %v is below min backoff %v", cfg.MaxBackoff, cfg.MinBackoff)
	}

	client := cfg.Client
	if client == nil {
		client = mjpeg.NewClient(cfg.RequestTimeout, cfg.KeepAlive)
	}

	stallTimeout := cfg.StallTimeout
	if stallTimeout == 0 {
		stallTimeout = mjpeg.DefaultStallTimeout
	}
	maxBuffer := cfg.MaxBufferSize
	if maxBuffer == 0 {
		maxBuffer = mjpeg.DefaultMaxBufferSize
	}

	s := &MJPEGStream{
		url:          cfg.URL,
		sourceStream: cfg.SourceStream,
		stallTimeout: stallTimeout,
		maxBuffer:    maxBuffer,
		client:       client,
		decoder:      mjpeg.DecodeJPEG,
		stopTimeout:  defaultStopTimeout,
		frames:       mailbox.New[*Frame](),
		monitor:      health.New(cfg.LivenessTimeout),
		reconnectState: &mjpeg.ReconnectState{
			Backoff: mjpeg.NewBackoff(mjpeg.ReconnectConfig{
				MinDelay: cfg.MinBackoff,
				MaxDelay: cfg.MaxBackoff,
			}),
			Reconnects: new(uint32),
		},
	}

	slog.Info("mjpeg-capture: MJPEG stream created",
		"url", cfg.URL,
		"source_stream", cfg.SourceStream,
		"stall_timeout", stallTimeout,
		"liveness_timeout", s.monitor.Timeout(),
		"max_buffer_bytes", maxBuffer,
	)

	return s, nil
}

// Start launches the ingestion goroutine and returns immediately
func (s *MJPEGStream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return fmt.Errorf("mjpeg-capture: stream already started")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = time.Now()
	s.monitor.Arm()
	s.running.Store(true)

	slog.Info("mjpeg-capture: starting MJPEG stream", "url", s.url)

	s.wg.Add(1)
	go s.run(s.ctx)

	return nil
}

// run supervises ingestion generations.
//
// Each generation is one RunWithReconnect loop under its own context. The
// liveness watchdog cancels a generation through forceRestart; RunWithReconnect
// only returns after the active session has closed its response body, so the
// next generation never overlaps the previous one's connection.
func (s *MJPEGStream) run(ctx context.Context) {
	defer s.wg.Done()
	defer s.running.Store(false)

	for {
		genCtx, genCancel := context.WithCancel(ctx)
		s.genMu.Lock()
		s.genCancel = genCancel
		s.genMu.Unlock()

		err := mjpeg.RunWithReconnect(genCtx, s.attempt, s.reconnectState)
		genCancel()
		slog.Debug("mjpeg-capture: ingestion generation ended", "error", err)

		if ctx.Err() != nil {
			slog.Debug("mjpeg-capture: ingestion stopped")
			return
		}

		s.monitor.Arm()
		slog.Warn("mjpeg-capture: ingestion restarted after liveness timeout",
			"url", s.url,
			"restarts", atomic.LoadUint64(&s.restarts),
		)
	}
}

// attempt runs one session and records its error telemetry.
func (s *MJPEGStream) attempt(ctx context.Context) mjpeg.Outcome {
	session := mjpeg.NewSession(s.client, mjpeg.SessionConfig{
		URL:           s.url,
		StallTimeout:  s.stallTimeout,
		MaxBufferSize: s.maxBuffer,
		Decoder:       s.decoder,
		OnFrame:       s.publish,
		Telemetry:     &s.telemetry,
	})

	out := session.Run(ctx)

	if out.Err != nil && out.Reason != mjpeg.EndedCancelled {
		category := s.errors.Record(out.Err)
		slog.Debug("mjpeg-capture: session error classified",
			"session_id", out.ID,
			"category", category.String(),
		)
	}

	return out
}

// publish hands a decoded image to the consumer mailbox.
func (s *MJPEGStream) publish(img *mjpeg.Image) {
	seq := atomic.AddUint64(&s.frameCount, 1)
	s.frames.Publish(&Frame{
		Seq:          seq,
		Timestamp:    time.Now(),
		Width:        img.Width,
		Height:       img.Height,
		Data:         img.Pix,
		SourceStream: s.sourceStream,
		TraceID:      uuid.NewString(),
	})
}

// forceRestart cancels the current generation without waiting for it.
func (s *MJPEGStream) forceRestart() {
	s.genMu.Lock()
	cancel := s.genCancel
	s.genMu.Unlock()

	if cancel == nil {
		return
	}

	restarts := atomic.AddUint64(&s.restarts, 1)
	slog.Warn("mjpeg-capture: no frame reached the consumer within liveness timeout, restarting ingestion",
		"timeout", s.monitor.Timeout(),
		"frame_age", s.monitor.Age(),
		"restarts", restarts,
	)
	cancel()
}

// TryLatest returns the newest frame decoded since the previous call
func (s *MJPEGStream) TryLatest() (*Frame, bool) {
	frame, ok := s.frames.TryTake()

	if s.running.Load() && s.monitor.Observe(ok) {
		s.forceRestart()
	}

	return frame, ok
}

// Connected reports whether a frame reached the consumer recently
func (s *MJPEGStream) Connected() bool {
	return s.monitor.Connected()
}

// FrameAge returns the age of the newest frame seen by the consumer
func (s *MJPEGStream) FrameAge() time.Duration {
	return s.monitor.Age()
}

// Stop cancels ingestion and waits for the background goroutine
//
// Idempotent - safe to call multiple times.
func (s *MJPEGStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		slog.Debug("mjpeg-capture: stream not started, nothing to stop")
		return nil
	}

	slog.Info("mjpeg-capture: stopping MJPEG stream")

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Debug("mjpeg-capture: goroutines stopped cleanly")
	case <-time.After(s.stopTimeout):
		// Keep the lifecycle state: Start stays refused until a later Stop
		// sees the goroutine exit.
		slog.Warn("mjpeg-capture: stop timeout exceeded, ingestion goroutine still running")
		return fmt.Errorf("mjpeg-capture: stop timeout after %v", s.stopTimeout)
	}

	slog.Info("mjpeg-capture: MJPEG stream stopped",
		"frames_captured", atomic.LoadUint64(&s.frameCount),
		"reconnects", atomic.LoadUint32(s.reconnectState.Reconnects),
		"restarts", atomic.LoadUint64(&s.restarts),
		"uptime", time.Since(s.started),
	)

	// Reset state for potential restart
	s.cancel = nil
	s.ctx = nil
	s.frames.Clear()
	s.genMu.Lock()
	s.genCancel = nil
	s.genMu.Unlock()

	return nil
}

// Stats returns current stream statistics
//
// Thread-safe - uses atomic operations for counters.
func (s *MJPEGStream) Stats() StreamStats {
	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()

	frameCount := atomic.LoadUint64(&s.frameCount)
	mb := s.frames.Stats()

	var fpsReal float64
	if !started.IsZero() {
		if uptime := time.Since(started).Seconds(); uptime > 0 {
			fpsReal = float64(frameCount) / uptime
		}
	}

	var dropRate float64
	if mb.Published > 0 {
		dropRate = float64(mb.Overwritten) / float64(mb.Published) * 100.0
	}

	state := mjpeg.State(s.telemetry.State.Load()).String()
	if !s.running.Load() {
		state = mjpeg.StateIdle.String()
	}

	return StreamStats{
		FrameCount:      frameCount,
		FramesDropped:   mb.Overwritten,
		DropRate:        dropRate,
		DecodeErrors:    s.telemetry.DecodeErrors.Load(),
		BufferOverflows: s.telemetry.BufferOverflows.Load(),
		FPSReal:         fpsReal,
		LatencyMS:       s.monitor.Age().Milliseconds(),
		SourceStream:    s.sourceStream,
		State:           state,
		Sessions:        s.telemetry.Sessions.Load(),
		Reconnects:      atomic.LoadUint32(s.reconnectState.Reconnects),
		Restarts:        atomic.LoadUint64(&s.restarts),
		Backoff:         s.reconnectState.Backoff.Current(),
		BytesRead:       s.telemetry.BytesRead.Load(),
		IsConnected:     s.monitor.Connected(),
		ErrorsNetwork:   s.errors.Network.Load(),
		ErrorsHTTP:      s.errors.HTTP.Load(),
		ErrorsAuth:      s.errors.Auth.Load(),
		ErrorsStall:     s.errors.Stall.Load(),
		ErrorsUnknown:   s.errors.Unknown.Load(),
	}
}

// Warmup measures stream FPS stability over a specified duration
//
// Frames are taken through TryLatest, so the watchdog stays active and the
// consumer does not see frames consumed here.
func (s *MJPEGStream) Warmup(ctx context.Context, duration time.Duration) (*WarmupStats, error) {
	if !s.running.Load() {
		return nil, fmt.Errorf("mjpeg-capture: stream not started")
	}

	poll := func() (warmup.Sample, bool) {
		frame, ok := s.TryLatest()
		if !ok {
			return warmup.Sample{}, false
		}
		return warmup.Sample{Seq: frame.Seq, Timestamp: frame.Timestamp}, true
	}

	stats, err := warmup.Measure(ctx, poll, duration, warmup.DefaultPollInterval)
	if stats == nil {
		return nil, fmt.Errorf("mjpeg-capture: %w", err)
	}

	out := fromWarmupStats(stats)
	if err != nil {
		return out, fmt.Errorf("mjpeg-capture: %w", err)
	}
	return out, nil
}
