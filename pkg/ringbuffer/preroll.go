package ringbuffer

import (
	"fmt"
	"sync/atomic"
)

// Preroll gates the consumer until enough data has been buffered to absorb
// arrival jitter. It latches ready once the ring's write space drops to the
// low-water mark and stays ready until the consumer reports an underrun.
type Preroll struct {
	lowWater int
	ready    atomic.Bool
}

// NewPreroll returns a gate that opens when at most fraction*capacity bytes
// remain writable. A fraction of 0.25 matches "25% of the ring remains free".
// The mark is never below block, the producer's write unit, so a ring too
// full to take another block always opens the gate.
func NewPreroll(capacity, block int, fraction float64) (*Preroll, error) {
	if fraction <= 0 || fraction >= 1 {
		return nil, fmt.Errorf("ringbuffer: preroll fraction must be in (0,1), got %v", fraction)
	}
	if block <= 0 || block > capacity {
		return nil, fmt.Errorf("ringbuffer: preroll block %d out of range (1..%d)", block, capacity)
	}
	return &Preroll{lowWater: max(int(float64(capacity)*fraction), block)}, nil
}

// LowWater returns the write-space threshold in bytes.
func (p *Preroll) LowWater() int {
	return p.lowWater
}

// Update is called by the producer after each write.
func (p *Preroll) Update(r *Ring) {
	if !p.ready.Load() && r.WriteSpace() <= p.lowWater {
		p.ready.Store(true)
	}
}

// Ready reports whether the consumer may drain.
func (p *Preroll) Ready() bool {
	return p.ready.Load()
}

// Reset closes the gate again, typically after an underrun.
func (p *Preroll) Reset() {
	p.ready.Store(false)
}
