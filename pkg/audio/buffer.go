package audio

import (
	"sync"
)

// StreamBuffer is a bounded FIFO byte buffer for inbound session audio.
//
// Unlike a classic overwrite ring it preserves head order so the caller can
// peek a fixed-size window from the front and then discard only the
// non-overlapping part, keeping the window tail as the head of the next
// window. When a writer outruns the consumer the oldest bytes are dropped so
// memory stays bounded under a stuck client.
type StreamBuffer struct {
	mu      sync.Mutex
	data    []byte
	start   int // head offset into data
	maxSize int // cap on buffered bytes, 0 means unbounded
}

// NewStreamBuffer creates a stream buffer that holds at most maxSize bytes.
// maxSize <= 0 disables the cap.
func NewStreamBuffer(maxSize int) *StreamBuffer {
	return &StreamBuffer{maxSize: maxSize}
}

// Write appends p to the buffer. If the buffer would exceed its cap, the
// oldest bytes are discarded first; the return value is the number of bytes
// dropped (0 in the common case).
func (b *StreamBuffer) Write(p []byte) int {
	if len(p) == 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)

	dropped := 0
	if b.maxSize > 0 && b.length() > b.maxSize {
		dropped = b.length() - b.maxSize
		b.start += dropped
	}
	b.compact()
	return dropped
}

// Peek returns a copy of the first n buffered bytes without consuming them.
// Returns nil, false when fewer than n bytes are buffered.
func (b *StreamBuffer) Peek(n int) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || b.length() < n {
		return nil, false
	}

	out := make([]byte, n)
	copy(out, b.data[b.start:b.start+n])
	return out, true
}

// Discard drops up to n bytes from the head and returns how many were
// actually dropped.
func (b *StreamBuffer) Discard(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 {
		return 0
	}
	if n > b.length() {
		n = b.length()
	}
	b.start += n
	b.compact()
	return n
}

// Len returns the number of buffered bytes.
func (b *StreamBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.length()
}

// Clear empties the buffer.
func (b *StreamBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
	b.start = 0
}

func (b *StreamBuffer) length() int {
	return len(b.data) - b.start
}

// compact reclaims the dead head region once it dominates the backing slice,
// so repeated Discard calls do not pin the whole history in memory.
func (b *StreamBuffer) compact() {
	if b.start == 0 {
		return
	}
	if b.start >= len(b.data) {
		b.data = b.data[:0]
		b.start = 0
		return
	}
	if b.start > len(b.data)/2 {
		n := copy(b.data, b.data[b.start:])
		b.data = b.data[:n]
		b.start = 0
	}
}
