package mjpegcapture

import (
	"net/http"
	"time"
)

// Frame represents a single decoded video frame with metadata
type Frame struct {
	// Seq is the monotonic sequence number (in decode order)
	Seq uint64
	// Timestamp is when the frame was decoded
	Timestamp time.Time
	// Width in pixels
	Width int
	// Height in pixels
	Height int
	// Data contains packed RGB pixels (3 bytes/pixel, row-major, no padding)
	Data []byte
	// SourceStream identifies the stream (e.g., "droidcam")
	SourceStream string
	// TraceID is a unique identifier for distributed tracing
	TraceID string
}

// StreamStats contains current stream statistics
type StreamStats struct {
	// FrameCount is the total number of frames decoded
	FrameCount uint64
	// FramesDropped is the number of frames replaced before the consumer took them
	FramesDropped uint64
	// DropRate is the percentage of frames dropped (0-100)
	DropRate float64
	// DecodeErrors is the number of marker-delimited spans that failed to decode
	DecodeErrors uint64
	// BufferOverflows is the number of times the raw buffer hit its cap and was cleared
	BufferOverflows uint64
	// FPSReal is the measured decode rate since Start
	FPSReal float64
	// LatencyMS is the age of the newest frame seen by the consumer in milliseconds
	LatencyMS int64
	// SourceStream identifies the stream
	SourceStream string
	// State is the current session state (connecting, streaming, stalled, ended, idle)
	State string
	// Sessions is the number of connection attempts made
	Sessions uint64
	// Reconnects is the number of reconnection attempts
	Reconnects uint32
	// Restarts is the number of restarts forced by the liveness watchdog
	Restarts uint64
	// Backoff is the delay the next failed attempt will wait
	Backoff time.Duration
	// BytesRead is the total bytes read from the stream
	BytesRead uint64
	// IsConnected indicates a frame reached the consumer within the liveness timeout
	IsConnected bool

	// Error telemetry, by category
	ErrorsNetwork uint64
	ErrorsHTTP    uint64
	ErrorsAuth    uint64
	ErrorsStall   uint64
	ErrorsUnknown uint64
}

// MJPEGConfig contains configuration for MJPEG-over-HTTP capture.
//
// Zero durations and sizes select the defaults listed per field.
type MJPEGConfig struct {
	// URL is the HTTP(S) stream URL (required)
	URL string
	// SourceStream identifies the stream in frames and logs
	SourceStream string

	// RequestTimeout bounds dialing and waiting for response headers (default: 60s)
	RequestTimeout time.Duration
	// KeepAlive is the TCP keepalive period (default: 30s)
	KeepAlive time.Duration
	// StallTimeout ends a session without a decodable frame for this long (default: 5s)
	StallTimeout time.Duration
	// LivenessTimeout restarts ingestion when the consumer saw no frame for this long (default: 10s)
	LivenessTimeout time.Duration
	// MinBackoff is the initial and reset reconnect delay (default: 100ms)
	MinBackoff time.Duration
	// MaxBackoff caps the reconnect delay (default: 5s)
	MaxBackoff time.Duration
	// MaxBufferSize caps the raw byte buffer per session (default: 1 MiB)
	MaxBufferSize int

	// Client overrides the HTTP client built from RequestTimeout/KeepAlive
	Client *http.Client
}

// WarmupStats contains statistics collected during stream warm-up phase
type WarmupStats struct {
	// FramesReceived is the number of frames received during warm-up
	FramesReceived int
	// Duration is the actual warm-up duration
	Duration time.Duration
	// FPSMean is the mean FPS across all frames
	FPSMean float64
	// FPSStdDev is the standard deviation of FPS
	FPSStdDev float64
	// FPSMin is the minimum instantaneous FPS
	FPSMin float64
	// FPSMax is the maximum instantaneous FPS
	FPSMax float64
	// IsStable is true if FPS is stable (stddev < 15% of mean AND jitter < 20%)
	IsStable bool
	// JitterMean is the average deviation from the expected interval (seconds)
	JitterMean float64
	// JitterStdDev is the standard deviation of jitter (seconds)
	JitterStdDev float64
	// JitterMax is the maximum jitter observed (seconds)
	JitterMax float64
}
