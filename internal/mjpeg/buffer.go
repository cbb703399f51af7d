package mjpeg

import (
	"bytes"
)

// DefaultMaxBufferSize is the RawBuffer cap (1 MiB). A buffer that grows past
// it without yielding a frame is cleared.
const DefaultMaxBufferSize = 1 << 20

var (
	markerSOI = []byte{0xFF, 0xD8} // Start Of Image
	markerEOI = []byte{0xFF, 0xD9} // End Of Image
)

// Buffer accumulates stream bytes for a single session.
//
// Consumed bytes are physically removed (the tail is moved to the front), so
// the buffer never holds a frame that was already handed out.
type Buffer struct {
	data []byte
	max  int
}

// Candidate is one SOI..EOI span removed from a Buffer.
type Candidate struct {
	// Stray holds the bytes that preceded the start marker (multipart
	// headers, boundaries, garbage). They are dropped by the extractor.
	Stray []byte
	// JPEG is the inclusive start-marker..end-marker span.
	JPEG []byte
}

// NewBuffer returns an empty buffer capped at max bytes.
// max <= 0 selects DefaultMaxBufferSize.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = DefaultMaxBufferSize
	}
	return &Buffer{
		data: make([]byte, 0, 64*1024),
		max:  max,
	}
}

// Write appends p to the buffer. It never fails; the signature matches
// io.Writer so the buffer can sit behind io.Copy in tests and tools.
func (b *Buffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int { return len(b.data) }

// Bytes returns the buffered bytes. The slice is only valid until the next
// call that mutates the buffer.
func (b *Buffer) Bytes() []byte { return b.data }

// Reset drops every buffered byte.
func (b *Buffer) Reset() { b.data = b.data[:0] }

// Max returns the configured cap.
func (b *Buffer) Max() int { return b.max }

// Enforce clears the buffer if it grew past its cap and reports whether it
// did so.
func (b *Buffer) Enforce() bool {
	if len(b.data) <= b.max {
		return false
	}
	b.Reset()
	return true
}

// Next removes the next complete SOI..EOI span from the buffer.
//
// With no start marker, or a start marker without a following end marker,
// the buffer is left untouched and ok is false.
func (b *Buffer) Next() (c Candidate, ok bool) {
	start := bytes.Index(b.data, markerSOI)
	if start < 0 {
		return Candidate{}, false
	}

	rel := bytes.Index(b.data[start:], markerEOI)
	if rel < 0 {
		return Candidate{}, false
	}
	end := start + rel + len(markerEOI)

	c = Candidate{
		Stray: bytes.Clone(b.data[:start]),
		JPEG:  bytes.Clone(b.data[start:end]),
	}
	b.truncate(end)

	return c, true
}

// truncate removes the first n bytes.
func (b *Buffer) truncate(n int) {
	rest := copy(b.data, b.data[n:])
	b.data = b.data[:rest]
}
