// Package ringbuffer provides a fixed-capacity single-producer/single-consumer
// byte ring used to hand audio between the network path and the audio callback.
//
// Exactly one goroutine may call Write and exactly one goroutine may call Read.
// Cursor updates are atomic, so neither side ever takes a lock.
package ringbuffer

import (
	"fmt"
	"sync/atomic"
)

// Ring is a lock-free SPSC byte ring. The write and read cursors advance
// monotonically; positions inside the backing array are taken modulo capacity.
type Ring struct {
	buf      []byte
	capacity uint64

	// written by the producer only
	write atomic.Uint64
	// written by the consumer only
	read atomic.Uint64
}

// New allocates a ring of exactly capacity bytes. The backing array is never
// reallocated while the ring is live.
func New(capacity int) (*Ring, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ringbuffer: capacity must be > 0, got %d", capacity)
	}
	return &Ring{
		buf:      make([]byte, capacity),
		capacity: uint64(capacity),
	}, nil
}

// Capacity returns the fixed byte capacity.
func (r *Ring) Capacity() int {
	return int(r.capacity)
}

// ReadSpace returns the number of bytes available to the consumer.
func (r *Ring) ReadSpace() int {
	return int(r.write.Load() - r.read.Load())
}

// WriteSpace returns the number of bytes the producer may write.
func (r *Ring) WriteSpace() int {
	return int(r.capacity - (r.write.Load() - r.read.Load()))
}

// Write copies as much of p as fits and returns the number of bytes written.
// It never blocks. Callers check WriteSpace first and treat a short write as
// an overrun.
func (r *Ring) Write(p []byte) int {
	w := r.write.Load()
	free := r.capacity - (w - r.read.Load())
	n := uint64(len(p))
	if n > free {
		n = free
	}
	if n == 0 {
		return 0
	}

	pos := w % r.capacity
	first := r.capacity - pos
	if first > n {
		first = n
	}
	copy(r.buf[pos:pos+first], p[:first])
	copy(r.buf[:n-first], p[first:n])

	// publish after the copy so the consumer never sees unwritten bytes
	r.write.Store(w + n)
	return int(n)
}

// Read copies up to len(p) buffered bytes into p and returns the count.
// It never blocks. Callers check ReadSpace first and treat a short read as
// an underrun.
func (r *Ring) Read(p []byte) int {
	rd := r.read.Load()
	avail := r.write.Load() - rd
	n := uint64(len(p))
	if n > avail {
		n = avail
	}
	if n == 0 {
		return 0
	}

	pos := rd % r.capacity
	first := r.capacity - pos
	if first > n {
		first = n
	}
	copy(p[:first], r.buf[pos:pos+first])
	copy(p[first:n], r.buf[:n-first])

	r.read.Store(rd + n)
	return int(n)
}

// Reset discards all buffered data. It must only be called while neither the
// producer nor the consumer is running.
func (r *Ring) Reset() {
	r.read.Store(r.write.Load())
}
