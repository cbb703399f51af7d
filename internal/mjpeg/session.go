package mjpeg

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultStallTimeout ends a session that produced no decodable frame for
// this long.
const DefaultStallTimeout = 5 * time.Second

// readChunkSize is the size of each body read.
const readChunkSize = 32 * 1024

// State is the lifecycle state of a session.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateStreaming
	StateStalled
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateStalled:
		return "stalled"
	case StateEnded:
		return "ended"
	default:
		return "idle"
	}
}

// EndReason says why a session ended.
type EndReason int

const (
	// EndedOK means the server closed the body normally.
	EndedOK EndReason = iota
	// EndedError means the request or the body read failed.
	EndedError
	// EndedStalled means the stall timer fired.
	EndedStalled
	// EndedCancelled means the caller's context was cancelled.
	EndedCancelled
)

func (r EndReason) String() string {
	switch r {
	case EndedOK:
		return "ok"
	case EndedError:
		return "error"
	case EndedStalled:
		return "stalled"
	default:
		return "cancelled"
	}
}

// Outcome is the result of one session.
type Outcome struct {
	ID     string
	Reason EndReason
	Err    error
	// Frames is the number of frames decoded and handed out.
	Frames uint64
	// Connected is true once a success status was received.
	Connected bool
}

// Telemetry holds counters shared by every session of a stream.
type Telemetry struct {
	BytesRead       atomic.Uint64
	DecodeErrors    atomic.Uint64
	BufferOverflows atomic.Uint64
	Sessions        atomic.Uint64
	State           atomic.Int32
}

// SessionConfig configures a Session.
type SessionConfig struct {
	URL           string
	StallTimeout  time.Duration
	MaxBufferSize int
	Decoder       Decoder

	// OnFrame receives every decoded frame. Ownership of img moves to the
	// callee. It must not block.
	OnFrame func(img *Image)

	// Telemetry is optional.
	Telemetry *Telemetry
}

// Session owns one connection attempt: request, incremental body read and
// frame extraction. A Session is single-use.
type Session struct {
	id     string
	client *http.Client
	cfg    SessionConfig
	tel    *Telemetry
}

// NewSession prepares a session. client is shared across sessions and must
// not carry request-specific state.
func NewSession(client *http.Client, cfg SessionConfig) *Session {
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = DefaultStallTimeout
	}
	tel := cfg.Telemetry
	if tel == nil {
		tel = &Telemetry{}
	}
	return &Session{
		id:     uuid.NewString(),
		client: client,
		cfg:    cfg,
		tel:    tel,
	}
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

func (s *Session) setState(st State) {
	s.tel.State.Store(int32(st))
}

// Run executes the session until the body ends, an error occurs, the stall
// timer fires or ctx is cancelled. Cancelling ctx aborts an in-flight read
// and closes the connection before Run returns.
func (s *Session) Run(ctx context.Context) Outcome {
	s.tel.Sessions.Add(1)
	out := Outcome{ID: s.id}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	s.setState(StateConnecting)
	slog.Debug("mjpeg: connecting", "session_id", s.id, "url", s.cfg.URL)

	req, err := newStreamRequest(ctx, s.cfg.URL)
	if err != nil {
		return s.end(out, EndedError, &ConnectError{Err: err})
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return s.end(out, EndedCancelled, ctx.Err())
		}
		return s.end(out, EndedError, &ConnectError{Err: err})
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return s.end(out, EndedError, &ConnectError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
		})
	}

	out.Connected = true
	s.setState(StateStreaming)
	slog.Info("mjpeg: streaming",
		"session_id", s.id,
		"status", resp.StatusCode,
		"content_type", resp.Header.Get("Content-Type"),
	)

	// The stall timer cancels the request context, which also unblocks a
	// body read that would otherwise never return.
	stall := time.AfterFunc(s.cfg.StallTimeout, func() {
		s.setState(StateStalled)
		cancel(ErrStalled)
	})
	defer stall.Stop()

	buf := NewBuffer(s.cfg.MaxBufferSize)
	extractor := NewExtractor(s.cfg.Decoder)
	chunk := make([]byte, readChunkSize)

	for {
		n, rerr := resp.Body.Read(chunk)
		if n > 0 {
			s.tel.BytesRead.Add(uint64(n))
			buf.Write(chunk[:n])

			failedBefore := extractor.Failed
			for img := range extractor.Frames(buf) {
				out.Frames++
				stall.Reset(s.cfg.StallTimeout)
				if s.cfg.OnFrame != nil {
					s.cfg.OnFrame(img)
				}
			}
			if failed := extractor.Failed - failedBefore; failed > 0 {
				s.tel.DecodeErrors.Add(failed)
			}

			if size := buf.Len(); buf.Enforce() {
				s.tel.BufferOverflows.Add(1)
				slog.Warn("mjpeg: buffer exceeded cap without a complete frame, clearing",
					"session_id", s.id,
					"size_bytes", size,
					"max_bytes", buf.Max(),
				)
			}
		}

		if rerr == nil {
			continue
		}

		switch {
		case errors.Is(context.Cause(ctx), ErrStalled):
			return s.end(out, EndedStalled, ErrStalled)
		case ctx.Err() != nil:
			return s.end(out, EndedCancelled, ctx.Err())
		case errors.Is(rerr, io.EOF):
			return s.end(out, EndedOK, nil)
		default:
			return s.end(out, EndedError, &StreamError{Err: rerr})
		}
	}
}

func (s *Session) end(out Outcome, reason EndReason, err error) Outcome {
	out.Reason = reason
	out.Err = err
	s.setState(StateEnded)

	attrs := []any{
		"session_id", s.id,
		"reason", reason.String(),
		"frames", out.Frames,
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}

	switch reason {
	case EndedError, EndedStalled:
		slog.Warn("mjpeg: session ended", attrs...)
	default:
		slog.Info("mjpeg: session ended", attrs...)
	}

	return out
}
