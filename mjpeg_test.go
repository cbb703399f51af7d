package mjpegcapture

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testJPEG(t testing.TB, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, nil); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return out.Bytes()
}

// cameraServer mimics a phone camera app: every request gets `frames` JPEGs
// spaced by `interval` (0 = unlimited), after which the handler either
// closes the body or holds the connection silently.
type cameraServer struct {
	jpeg     []byte
	frames   int
	interval time.Duration
	hold     bool
	status   int

	requests atomic.Int32
	done     chan struct{}
}

func (c *cameraServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c.requests.Add(1)

	if c.status != 0 {
		w.WriteHeader(c.status)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.WriteHeader(http.StatusOK)
	flusher := w.(http.Flusher)
	flusher.Flush()

	for sent := 0; c.frames == 0 || sent < c.frames; sent++ {
		if _, err := w.Write([]byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")); err != nil {
			return
		}
		if _, err := w.Write(c.jpeg); err != nil {
			return
		}
		w.Write([]byte("\r\n"))
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-c.done:
			return
		case <-time.After(c.interval):
		}
	}

	if c.hold {
		select {
		case <-r.Context().Done():
		case <-c.done:
		}
	}
}

func startCamera(t *testing.T, c *cameraServer) *httptest.Server {
	t.Helper()
	c.done = make(chan struct{})
	srv := httptest.NewServer(c)
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(c.done) })
	return srv
}

func startStream(t *testing.T, cfg MJPEGConfig) *MJPEGStream {
	t.Helper()
	stream, err := NewMJPEGStream(cfg)
	if err != nil {
		t.Fatalf("NewMJPEGStream failed: %v", err)
	}
	if err := stream.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { stream.Stop() })
	return stream
}

// waitForFrame polls like a display loop until a frame arrives.
func waitForFrame(t *testing.T, s *MJPEGStream, timeout time.Duration) *Frame {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if frame, ok := s.TryLatest(); ok {
			return frame
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no frame within %v", timeout)
	return nil
}

func eventually(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// TestNewMJPEGStream_FailFast verifies fail-fast validation at construction time
func TestNewMJPEGStream_FailFast(t *testing.T) {
	tests := []struct {
		name        string
		cfg         MJPEGConfig
		expectError bool
		errorMsg    string
	}{
		{
			name:        "empty URL",
			cfg:         MJPEGConfig{},
			expectError: true,
			errorMsg:    "stream URL is required",
		},
		{
			name:        "unsupported scheme",
			cfg:         MJPEGConfig{URL: "rtsp://192.168.1.100/stream"},
			expectError: true,
			errorMsg:    "unsupported URL scheme",
		},
		{
			name:        "missing host",
			cfg:         MJPEGConfig{URL: "http:///video"},
			expectError: true,
			errorMsg:    "has no host",
		},
		{
			name:        "unparseable URL",
			cfg:         MJPEGConfig{URL: "http://[::1"},
			expectError: true,
			errorMsg:    "invalid stream URL",
		},
		{
			name:        "negative stall timeout",
			cfg:         MJPEGConfig{URL: "http://cam.local/video", StallTimeout: -time.Second},
			expectError: true,
			errorMsg:    "invalid stall timeout",
		},
		{
			name:        "negative liveness timeout",
			cfg:         MJPEGConfig{URL: "http://cam.local/video", LivenessTimeout: -time.Second},
			expectError: true,
			errorMsg:    "invalid liveness timeout",
		},
		{
			name:        "negative buffer size",
			cfg:         MJPEGConfig{URL: "http://cam.local/video", MaxBufferSize: -1},
			expectError: true,
			errorMsg:    "invalid max buffer size",
		},
		{
			name: "max backoff below min",
			cfg: MJPEGConfig{
				URL:        "http://cam.local/video",
				MinBackoff: time.Second,
				MaxBackoff: 100 * time.Millisecond,
			},
			expectError: true,
			errorMsg:    "below min backoff",
		},
		{
			name:        "valid http",
			cfg:         MJPEGConfig{URL: "http://192.168.0.101:4747/video", SourceStream: "droidcam"},
			expectError: false,
		},
		{
			name:        "valid https with overrides",
			cfg:         MJPEGConfig{URL: "https://cam.local/mjpg", StallTimeout: time.Second, MaxBufferSize: 4096},
			expectError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream, err := NewMJPEGStream(tt.cfg)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error containing %q, got nil", tt.errorMsg)
					return
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error containing %q, got %q", tt.errorMsg, err.Error())
				}
				t.Logf("✅ Fail-fast validation: %v", err)
				return
			}

			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if stream == nil {
				t.Fatal("Expected non-nil stream")
			}
		})
	}
}

// TestMJPEGStream_Stop_Idempotent verifies Stop() can be called multiple times safely
func TestMJPEGStream_Stop_Idempotent(t *testing.T) {
	stream, err := NewMJPEGStream(MJPEGConfig{URL: "http://cam.invalid/video"})
	if err != nil {
		t.Fatalf("NewMJPEGStream failed: %v", err)
	}

	if err := stream.Stop(); err != nil {
		t.Errorf("First Stop() on non-started stream failed: %v", err)
	}
	if err := stream.Stop(); err != nil {
		t.Errorf("Second Stop() on non-started stream failed: %v", err)
	}

	t.Log("✅ Double Stop() on non-started stream successful (no panic)")
}

// TestMJPEGStream_StopTimeoutKeepsStreamStarted verifies that a Stop which
// gives up waiting does not let a second ingestion goroutine start
func TestMJPEGStream_StopTimeoutKeepsStreamStarted(t *testing.T) {
	stream, err := NewMJPEGStream(MJPEGConfig{URL: "http://cam.invalid/video"})
	if err != nil {
		t.Fatalf("NewMJPEGStream failed: %v", err)
	}
	stream.stopTimeout = 50 * time.Millisecond

	// An ingestion goroutine stuck past cancellation.
	release := make(chan struct{})
	stream.mu.Lock()
	stream.ctx, stream.cancel = context.WithCancel(context.Background())
	stream.running.Store(true)
	stream.wg.Add(1)
	stream.mu.Unlock()
	go func() {
		defer stream.wg.Done()
		defer stream.running.Store(false)
		<-release
	}()

	if err := stream.Stop(); err == nil || !strings.Contains(err.Error(), "stop timeout") {
		t.Fatalf("Expected stop timeout error, got %v", err)
	}
	if err := stream.Start(context.Background()); err == nil {
		t.Fatal("Start must be refused while the previous goroutine is still running")
	}

	close(release)
	if err := stream.Stop(); err != nil {
		t.Fatalf("Second Stop failed after goroutine exit: %v", err)
	}
	if stream.running.Load() {
		t.Error("running still set after the goroutine exited")
	}

	t.Log("✅ Stop timeout keeps the stream started until the goroutine drains")
}

func TestMJPEGStream_StartTwice(t *testing.T) {
	srv := startCamera(t, &cameraServer{status: http.StatusServiceUnavailable})
	stream := startStream(t, MJPEGConfig{URL: srv.URL})

	if err := stream.Start(context.Background()); err == nil {
		t.Fatal("Expected error on second Start()")
	}
}

func TestMJPEGStream_NotStarted(t *testing.T) {
	stream, err := NewMJPEGStream(MJPEGConfig{URL: "http://cam.invalid/video"})
	if err != nil {
		t.Fatalf("NewMJPEGStream failed: %v", err)
	}

	if _, ok := stream.TryLatest(); ok {
		t.Error("TryLatest returned a frame before Start")
	}
	if stream.Connected() {
		t.Error("Connected before Start")
	}
	if stats := stream.Stats(); stats.State != "idle" || stats.FPSReal != 0 {
		t.Errorf("unexpected stats before Start: %+v", stats)
	}
	if _, err := stream.Warmup(context.Background(), time.Second); err == nil {
		t.Error("Warmup must fail when the stream is not running")
	}
}

func TestMJPEGStream_EndToEnd(t *testing.T) {
	cam := &cameraServer{jpeg: testJPEG(t, 32, 24), interval: 20 * time.Millisecond}
	srv := startCamera(t, cam)
	stream := startStream(t, MJPEGConfig{URL: srv.URL, SourceStream: "droidcam"})

	frame := waitForFrame(t, stream, 5*time.Second)

	if frame.Width != 32 || frame.Height != 24 {
		t.Errorf("Expected 32x24, got %dx%d", frame.Width, frame.Height)
	}
	if len(frame.Data) != 32*24*3 {
		t.Errorf("Expected %d RGB bytes, got %d", 32*24*3, len(frame.Data))
	}
	if frame.Seq == 0 || frame.TraceID == "" || frame.SourceStream != "droidcam" {
		t.Errorf("Frame metadata incomplete: seq=%d trace=%q source=%q", frame.Seq, frame.TraceID, frame.SourceStream)
	}
	if !stream.Connected() {
		t.Error("Expected Connected() after receiving a frame")
	}

	next := waitForFrame(t, stream, 5*time.Second)
	if next.Seq <= frame.Seq {
		t.Errorf("Sequence did not advance: %d then %d", frame.Seq, next.Seq)
	}

	stats := stream.Stats()
	if stats.FrameCount < 2 || stats.Sessions < 1 || stats.BytesRead == 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.State != "streaming" {
		t.Errorf("Expected state streaming, got %s", stats.State)
	}
	if !stats.IsConnected {
		t.Error("Expected IsConnected in stats")
	}

	start := time.Now()
	if err := stream.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > stream.stopTimeout {
		t.Errorf("Stop took %v", elapsed)
	}
	if got := stream.Stats().State; got != "idle" {
		t.Errorf("Expected idle after Stop, got %s", got)
	}
	if _, ok := stream.TryLatest(); ok {
		t.Error("TryLatest returned a stale frame after Stop")
	}

	t.Logf("✅ End-to-end: %d frames decoded, latest %dx%d", stats.FrameCount, next.Width, next.Height)
}

func TestMJPEGStream_ReconnectsAfterServerClose(t *testing.T) {
	cam := &cameraServer{jpeg: testJPEG(t, 8, 8), frames: 2, interval: 5 * time.Millisecond}
	srv := startCamera(t, cam)
	stream := startStream(t, MJPEGConfig{URL: srv.URL})

	eventually(t, 5*time.Second, "three sessions", func() bool {
		return cam.requests.Load() >= 3
	})

	stats := stream.Stats()
	if stats.Reconnects < 2 {
		t.Errorf("Expected at least 2 reconnects, got %d", stats.Reconnects)
	}
	if stats.Backoff != 100*time.Millisecond {
		t.Errorf("Expected backoff reset to 100ms after frame-producing sessions, got %v", stats.Backoff)
	}

	t.Logf("✅ Reconnected after server close (%d requests)", cam.requests.Load())
}

func TestMJPEGStream_BadStatusBacksOff(t *testing.T) {
	cam := &cameraServer{status: http.StatusServiceUnavailable}
	srv := startCamera(t, cam)
	stream := startStream(t, MJPEGConfig{URL: srv.URL})

	eventually(t, 5*time.Second, "http errors", func() bool {
		return stream.Stats().ErrorsHTTP >= 3
	})

	stats := stream.Stats()
	if stats.Backoff <= 100*time.Millisecond {
		t.Errorf("Expected backoff to grow after failures, got %v", stats.Backoff)
	}
	if stats.IsConnected || stream.Connected() {
		t.Error("Expected disconnected while the server returns 503")
	}
	if _, ok := stream.TryLatest(); ok {
		t.Error("TryLatest returned a frame from a failing server")
	}
}

func TestMJPEGStream_LivenessRestart(t *testing.T) {
	// One frame per connection, then silence with the socket open. The
	// stall timer is out of reach, so only the consumer watchdog can recover.
	cam := &cameraServer{jpeg: testJPEG(t, 8, 8), frames: 1, hold: true}
	srv := startCamera(t, cam)
	stream := startStream(t, MJPEGConfig{
		URL:             srv.URL,
		StallTimeout:    time.Minute,
		LivenessTimeout: 200 * time.Millisecond,
	})

	first := waitForFrame(t, stream, 5*time.Second)

	eventually(t, 5*time.Second, "watchdog restart", func() bool {
		stream.TryLatest()
		return stream.Stats().Restarts >= 1 && cam.requests.Load() >= 2
	})

	second := waitForFrame(t, stream, 5*time.Second)
	if second.Seq <= first.Seq {
		t.Errorf("Expected a frame from the restarted session, got seq %d after %d", second.Seq, first.Seq)
	}

	t.Logf("✅ Liveness watchdog restarted ingestion (%d restarts)", stream.Stats().Restarts)
}

func TestMJPEGStream_LatestWins(t *testing.T) {
	cam := &cameraServer{jpeg: testJPEG(t, 8, 8), interval: 2 * time.Millisecond}
	srv := startCamera(t, cam)
	stream := startStream(t, MJPEGConfig{URL: srv.URL})

	first := waitForFrame(t, stream, 5*time.Second)

	// A slow consumer skips frames instead of draining a backlog.
	time.Sleep(200 * time.Millisecond)
	frame := waitForFrame(t, stream, time.Second)
	stats := stream.Stats()

	if stats.FramesDropped == 0 {
		t.Error("Expected coalesced frames while the consumer was idle")
	}
	if frame.Seq <= first.Seq+1 {
		t.Errorf("Expected intermediate frames to be skipped, got seq %d after %d", frame.Seq, first.Seq)
	}
	if stats.DropRate <= 0 || stats.DropRate > 100 {
		t.Errorf("Drop rate out of range: %.2f", stats.DropRate)
	}
}
