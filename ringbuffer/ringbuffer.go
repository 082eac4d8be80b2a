// Package ringbuffer provides the fixed-capacity rolling window of recent samples
// that feeds a display.
package ringbuffer

import "fmt"

// Rolling is a fixed-capacity FIFO window of float64 values. It starts full of zeros,
// and each pushed batch evicts exactly as many of the oldest values as it adds.
// A Rolling is not safe for concurrent use.
type Rolling struct {
	data         []float64
	writePointer int // index of the oldest value, which the next Push overwrites first
}

// NewRolling creates and returns a new zero-filled Rolling window of the given capacity.
func NewRolling(capacity int) (*Rolling, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("rolling buffer capacity %d, want > 0", capacity)
	}
	return &Rolling{data: make([]float64, capacity)}, nil
}

// Cap returns the fixed capacity of the window.
func (r *Rolling) Cap() int {
	return len(r.data)
}

// Push adds a batch of values, newest last. A batch at least as long as the capacity
// replaces the whole window with its last Cap() values.
func (r *Rolling) Push(batch []float64) {
	capacity := len(r.data)
	if len(batch) >= capacity {
		copy(r.data, batch[len(batch)-capacity:])
		r.writePointer = 0
		return
	}
	// At most two copies: up to the end of the storage, then wrap to the front.
	n := copy(r.data[r.writePointer:], batch)
	if n < len(batch) {
		copy(r.data, batch[n:])
	}
	r.writePointer = (r.writePointer + len(batch)) % capacity
}

// Snapshot returns a copy of the window in order, oldest value first.
func (r *Rolling) Snapshot() []float64 {
	out := make([]float64, len(r.data))
	n := copy(out, r.data[r.writePointer:])
	copy(out[n:], r.data[:r.writePointer])
	return out
}

// Reset zeroes the window.
func (r *Rolling) Reset() {
	for i := range r.data {
		r.data[i] = 0
	}
	r.writePointer = 0
}
