package health

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMonitor_NoFrameYet(t *testing.T) {
	clock := newFakeClock()
	m := NewWithClock(10*time.Second, clock.Now)

	assert.False(t, m.Connected())
	assert.True(t, m.LastFrame().IsZero())
	assert.Zero(t, m.Age())
	assert.True(t, m.Stale(time.Hour))

	clock.Advance(9 * time.Second)
	assert.False(t, m.Observe(false), "within the first window")

	clock.Advance(2 * time.Second)
	assert.True(t, m.Observe(false), "a stream that never delivered must still trip the watchdog")
}

func TestMonitor_ExpiresAfterTimeout(t *testing.T) {
	clock := newFakeClock()
	m := NewWithClock(10*time.Second, clock.Now)

	assert.False(t, m.Observe(true))
	assert.True(t, m.Connected())

	clock.Advance(10 * time.Second)
	assert.False(t, m.Observe(false), "exactly at the timeout is still alive")
	assert.True(t, m.Connected())

	clock.Advance(time.Millisecond)
	assert.True(t, m.Observe(false))
	assert.False(t, m.Connected(), "Connected is derived from the last frame, not the re-armed window")
	assert.Equal(t, 10*time.Second+time.Millisecond, m.Age())
}

func TestMonitor_AtMostOneRestartPerWindow(t *testing.T) {
	clock := newFakeClock()
	m := NewWithClock(10*time.Second, clock.Now)

	clock.Advance(11 * time.Second)
	assert.True(t, m.Observe(false))

	// Polling continues at display rate without frames.
	for i := 0; i < 500; i++ {
		clock.Advance(16 * time.Millisecond)
		assert.False(t, m.Observe(false), "poll %d re-triggered inside the new window", i)
	}

	clock.Advance(3 * time.Second)
	assert.True(t, m.Observe(false), "next expiry one full window later")
}

func TestMonitor_FrameResetsWindow(t *testing.T) {
	clock := newFakeClock()
	m := NewWithClock(time.Second, clock.Now)

	for i := 0; i < 20; i++ {
		clock.Advance(900 * time.Millisecond)
		assert.False(t, m.Observe(true))
	}
	assert.True(t, m.Connected())
	assert.False(t, m.Stale(time.Second))
}

func TestMonitor_ArmGivesFreshWindow(t *testing.T) {
	clock := newFakeClock()
	m := NewWithClock(10*time.Second, clock.Now)

	clock.Advance(9 * time.Second)
	m.Arm()
	clock.Advance(9 * time.Second)
	assert.False(t, m.Observe(false))
}

func TestMonitor_DefaultTimeout(t *testing.T) {
	assert.Equal(t, DefaultTimeout, New(0).Timeout())
	assert.Equal(t, DefaultTimeout, New(-time.Second).Timeout())
	assert.Equal(t, 3*time.Second, New(3*time.Second).Timeout())
}
