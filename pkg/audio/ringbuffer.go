package audio

import "sync"

// RingBuffer is a fixed-size circular buffer of recent PCM samples. One
// producer writes captured audio while analysis code takes snapshots; both
// sides serialise on a single short critical section.
//
// The zero value is not usable; create one with [NewRingBuffer].
type RingBuffer struct {
	mu     sync.Mutex
	buf    []int16
	head   int  // next write position; also the oldest sample once filled
	filled bool // true after the buffer has been written end-to-end once
}

// NewRingBuffer returns an empty buffer holding size samples. A non-positive
// size is replaced with one second at [DefaultSampleRate].
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = DefaultSampleRate
	}
	return &RingBuffer{buf: make([]int16, size)}
}

// Len returns the capacity of the buffer in samples.
func (r *RingBuffer) Len() int {
	return len(r.buf)
}

// Write appends samples, overwriting the oldest data once the buffer wraps.
func (r *RingBuffer) Write(samples []int16) {
	if len(samples) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.buf)
	// Only the trailing n samples can survive a write longer than the buffer.
	if len(samples) >= n {
		copy(r.buf, samples[len(samples)-n:])
		r.head = 0
		r.filled = true
		return
	}

	for len(samples) > 0 {
		c := copy(r.buf[r.head:], samples)
		samples = samples[c:]
		r.head += c
		if r.head == n {
			r.head = 0
			r.filled = true
		}
	}
}

// IsFilled reports whether the buffer has been written end-to-end at least
// once. [RingBuffer.Snapshot] returns nil until then.
func (r *RingBuffer) IsFilled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filled
}

// Snapshot returns a chronologically ordered copy of the whole buffer,
// starting at the oldest sample. It returns nil when the buffer has not been
// filled yet.
func (r *RingBuffer) Snapshot() Window {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.filled {
		return nil
	}
	out := make(Window, len(r.buf))
	tail := copy(out, r.buf[r.head:])
	copy(out[tail:], r.buf[:r.head])
	return out
}

// Reset rewinds the buffer to empty. Stale samples stay in memory but are
// never returned because the filled flag is cleared.
func (r *RingBuffer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.filled = false
}
