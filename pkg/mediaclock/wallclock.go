package mediaclock

import (
	"sync"
	"time"
)

// WallClock timestamps items with the system clock. Edges never go backwards
// even if the wall clock is stepped.
type WallClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last uint64
}

// NewWallClock returns a WallClock; now defaults to time.Now.
func NewWallClock(now func() time.Time) *WallClock {
	if now == nil {
		now = time.Now
	}
	return &WallClock{now: now}
}

// Advance returns the current wall time in nanoseconds, clamped to be
// strictly greater than the previous result.
func (w *WallClock) Advance() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	t := uint64(w.now().UnixNano())
	if t <= w.last {
		t = w.last + 1
	}
	w.last = t
	return t
}
