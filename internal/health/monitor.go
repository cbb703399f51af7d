// Package health implements the consumer-side liveness watchdog.
//
// Liveness is measured where frames are actually seen (the consumer poll),
// not where they are produced: a wedged ingestion goroutine that neither
// reads nor errors is only visible from this side.
package health

import (
	"sync/atomic"
	"time"
)

// DefaultTimeout is how long the consumer may go without a new frame before
// ingestion is restarted.
const DefaultTimeout = 10 * time.Second

// Monitor tracks the time since the consumer last received a frame.
//
// Two timestamps are kept: lastFrame (the liveness timestamp proper, never
// faked) and armedAt (start of the current watch window, moved on Arm and on
// each expiry). The window is measured from whichever is later.
type Monitor struct {
	timeout time.Duration
	now     func() time.Time

	lastFrame atomic.Int64 // unix nanos, 0 = no frame yet
	armedAt   atomic.Int64 // unix nanos
}

// New returns a monitor with the given timeout (DefaultTimeout when <= 0).
func New(timeout time.Duration) *Monitor {
	return NewWithClock(timeout, time.Now)
}

// NewWithClock is New with an injectable clock.
func NewWithClock(timeout time.Duration, now func() time.Time) *Monitor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	m := &Monitor{timeout: timeout, now: now}
	m.Arm()
	return m
}

// Timeout returns the configured liveness timeout.
func (m *Monitor) Timeout() time.Duration { return m.timeout }

// Arm starts a fresh watch window at the current time. Called when ingestion
// (re)starts so a new attempt gets a full window before being judged.
func (m *Monitor) Arm() {
	m.armedAt.Store(m.now().UnixNano())
}

// Observe records the outcome of one consumer poll and reports whether the
// liveness timeout has been exceeded. On expiry the window is re-armed, so a
// stuck stream triggers at most one restart per timeout period.
func (m *Monitor) Observe(delivered bool) (expired bool) {
	now := m.now()
	if delivered {
		m.lastFrame.Store(now.UnixNano())
		return false
	}

	since := m.armedAt.Load()
	if last := m.lastFrame.Load(); last > since {
		since = last
	}

	if now.Sub(time.Unix(0, since)) <= m.timeout {
		return false
	}

	m.armedAt.Store(now.UnixNano())
	return true
}

// LastFrame returns when the consumer last received a frame (zero if never).
func (m *Monitor) LastFrame() time.Time {
	ns := m.lastFrame.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Age returns the age of the newest frame the consumer saw, or zero if it
// never saw one.
func (m *Monitor) Age() time.Duration {
	last := m.LastFrame()
	if last.IsZero() {
		return 0
	}
	return m.now().Sub(last)
}

// Connected is derived from the liveness timestamp: a frame reached the
// consumer within the timeout.
func (m *Monitor) Connected() bool {
	last := m.LastFrame()
	return !last.IsZero() && m.now().Sub(last) <= m.timeout
}

// Stale reports whether the newest frame is older than maxAge (or missing).
func (m *Monitor) Stale(maxAge time.Duration) bool {
	last := m.LastFrame()
	return last.IsZero() || m.now().Sub(last) > maxAge
}
