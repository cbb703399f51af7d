package mjpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
)

// ErrStalled ends a session whose connection stayed open without producing a
// decodable frame for longer than the stall timeout.
var ErrStalled = errors.New("stream stalled: no frame within stall timeout")

// ConnectError reports a failure before the body started streaming: the
// request itself failed or the server answered with a non-success status.
type ConnectError struct {
	StatusCode int // zero when the request never got a response
	Status     string
	Err        error
}

func (e *ConnectError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("connect: server returned %s", e.Status)
	}
	return fmt.Sprintf("connect: %v", e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// StreamError reports a transport failure while reading the body.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string { return fmt.Sprintf("stream: %v", e.Err) }

func (e *StreamError) Unwrap() error { return e.Err }

// ErrorCategory classifies session errors for telemetry.
type ErrorCategory int

const (
	// ErrCategoryNetwork covers DNS, TCP and mid-body transport failures
	ErrCategoryNetwork ErrorCategory = iota
	// ErrCategoryHTTP covers non-success status codes other than auth
	ErrCategoryHTTP
	// ErrCategoryAuth covers 401/403 responses
	ErrCategoryAuth
	// ErrCategoryStall covers sessions ended by the stall timer
	ErrCategoryStall
	// ErrCategoryUnknown covers everything else
	ErrCategoryUnknown
)

// String returns a human-readable string representation of the error category
func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryHTTP:
		return "http"
	case ErrCategoryAuth:
		return "auth"
	case ErrCategoryStall:
		return "stall"
	default:
		return "unknown"
	}
}

// ClassifyError maps a session error onto a telemetry category.
//
// Typed errors are checked first; string heuristics are the fallback for
// errors the transport does not type.
func ClassifyError(err error) ErrorCategory {
	if err == nil {
		return ErrCategoryUnknown
	}

	if errors.Is(err, ErrStalled) {
		return ErrCategoryStall
	}

	var ce *ConnectError
	if errors.As(err, &ce) && ce.StatusCode != 0 {
		if ce.StatusCode == http.StatusUnauthorized || ce.StatusCode == http.StatusForbidden {
			return ErrCategoryAuth
		}
		return ErrCategoryHTTP
	}

	var netErr net.Error
	if errors.As(err, &netErr) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, context.DeadlineExceeded) {
		return ErrCategoryNetwork
	}

	if containsNetworkKeywords(strings.ToLower(err.Error())) {
		return ErrCategoryNetwork
	}

	return ErrCategoryUnknown
}

func containsNetworkKeywords(msg string) bool {
	keywords := []string{
		"connection",
		"timeout",
		"unreachable",
		"no such host",
		"dial",
		"eof",
		"broken pipe",
		"reset by peer",
	}

	for _, kw := range keywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	return false
}

// ErrorCounters holds atomic counters for each error category.
type ErrorCounters struct {
	Network atomic.Uint64
	HTTP    atomic.Uint64
	Auth    atomic.Uint64
	Stall   atomic.Uint64
	Unknown atomic.Uint64
}

// Record classifies err and bumps the matching counter.
func (c *ErrorCounters) Record(err error) ErrorCategory {
	category := ClassifyError(err)
	switch category {
	case ErrCategoryNetwork:
		c.Network.Add(1)
	case ErrCategoryHTTP:
		c.HTTP.Add(1)
	case ErrCategoryAuth:
		c.Auth.Add(1)
	case ErrCategoryStall:
		c.Stall.Add(1)
	default:
		c.Unknown.Add(1)
	}
	return category
}
