// Package mailbox implements the single-slot, latest-wins hand-off between
// the ingestion goroutine and the consumer poll loop.
//
// Philosophy: "Drop frames, never queue." A value that was not taken before
// the next Publish is overwritten; the consumer only ever sees the newest.
package mailbox

import (
	"sync"
	"sync/atomic"
)

// Stats is a snapshot of mailbox activity.
type Stats struct {
	// Published counts every Publish call.
	Published uint64
	// Overwritten counts values replaced before the consumer took them.
	Overwritten uint64
	// Taken counts values handed to the consumer.
	Taken uint64
}

// Mailbox holds at most one value.
//
// Publish never blocks on the consumer: the mutex only guards a pointer-sized
// swap. TryTake never waits for a value.
type Mailbox[T any] struct {
	mu   sync.Mutex
	slot T
	full bool

	published   atomic.Uint64
	overwritten atomic.Uint64
	taken       atomic.Uint64
}

// New returns an empty mailbox.
func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{}
}

// Publish stores v, replacing any value the consumer has not taken yet.
func (m *Mailbox[T]) Publish(v T) {
	m.mu.Lock()
	if m.full {
		m.overwritten.Add(1)
	}
	m.slot = v
	m.full = true
	m.mu.Unlock()

	m.published.Add(1)
}

// TryTake returns the newest value and empties the slot. ok is false when
// nothing was published since the last take.
func (m *Mailbox[T]) TryTake() (v T, ok bool) {
	m.mu.Lock()
	if !m.full {
		m.mu.Unlock()
		return v, false
	}
	v = m.slot
	var zero T
	m.slot = zero // release the reference so the consumer owns it alone
	m.full = false
	m.mu.Unlock()

	m.taken.Add(1)
	return v, true
}

// Clear drops a pending value without counting it as taken.
func (m *Mailbox[T]) Clear() {
	m.mu.Lock()
	var zero T
	m.slot = zero
	m.full = false
	m.mu.Unlock()
}

// Stats returns a snapshot of the counters.
func (m *Mailbox[T]) Stats() Stats {
	return Stats{
		Published:   m.published.Load(),
		Overwritten: m.overwritten.Load(),
		Taken:       m.taken.Load(),
	}
}
