// Package mediaclock produces monotonically increasing presentation
// timestamps for the transmit path.
//
// Synth is an integer accumulator that advances an edge time by a nominal
// period and carries the fractional remainder across calls, so fixed-interval
// timestamps never drift. WallClock reads the system clock instead.
package mediaclock

import (
	"fmt"
	"math"
	"math/bits"
	"sync"
	"time"
)

const nanosPerSecond = 1_000_000_000

// Timestamper yields the presentation edge for the next transmitted item in
// nanoseconds. Values are monotonic; callers truncate to the wire width.
type Timestamper interface {
	Advance() uint64
}

// Synth is the fixed-timestamp media clock.
//
// Each Advance adds period to the edge time and rem/scale of a nanosecond to
// the remainder accumulator; whenever the accumulator reaches scale the edge
// gains one extra nanosecond. The accumulator starts at scale/2, which makes
// every edge the nearest-integer rounding of the exact rational edge time.
type Synth struct {
	mu sync.Mutex

	period uint64
	rem    uint64
	scale  uint64

	accum    uint64
	edgeTime uint64
}

// Params describes a synth period as period + rem/scale nanoseconds.
type Params struct {
	Period uint64
	Rem    uint64
	Scale  uint64
}

// FromSampleRate derives the per-item period for framesPerItem samples at the
// given rate, corrected by a clock skew estimate in parts per billion. The
// rational period framesPerItem*(1e9+skew)/rate ns is kept exact: Period is
// the integer quotient, Rem the remainder and Scale the rate.
func FromSampleRate(framesPerItem, rate uint32, skewPPB int32) (Params, error) {
	if framesPerItem == 0 {
		return Params{}, fmt.Errorf("mediaclock: frames per item must be > 0")
	}
	if rate == 0 {
		return Params{}, fmt.Errorf("mediaclock: sample rate must be > 0")
	}
	if int64(skewPPB) <= -nanosPerSecond {
		return Params{}, fmt.Errorf("mediaclock: clock skew %d ppb out of range", skewPPB)
	}

	num := uint64(framesPerItem) * uint64(int64(nanosPerSecond)+int64(skewPPB))
	return Params{
		Period: num / uint64(rate),
		Rem:    num % uint64(rate),
		Scale:  uint64(rate),
	}, nil
}

// Nominal returns the period rounded to the nearest nanosecond.
func (p Params) Nominal() time.Duration {
	d := p.Period
	if p.Scale > 0 && 2*p.Rem >= p.Scale {
		d++
	}
	return time.Duration(d)
}

// Edges returns how many edges a synth started with p places within elapsed
// of its start, that is the largest k whose k-th Advance is at or before
// start+elapsed. It agrees with Synth's round-nearest carry.
func (p Params) Edges(elapsed time.Duration) uint64 {
	if elapsed < 0 || p.Scale == 0 {
		return 0
	}
	num := p.Period*p.Scale + p.Rem
	if num == 0 {
		return 0
	}
	// edge k is floor((k*num + scale/2) / scale)
	hi, lo := bits.Mul64(uint64(elapsed)+1, p.Scale)
	lo, borrow := bits.Sub64(lo, p.Scale/2+1, 0)
	hi -= borrow
	if hi >= num {
		return math.MaxUint64
	}
	k, _ := bits.Div64(hi, lo, num)
	return k
}

// NewSynth builds a synth. Start must be called before the first Advance to
// anchor the edge time; otherwise the edge starts at zero.
func NewSynth(p Params) (*Synth, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &Synth{
		period: p.Period,
		rem:    p.Rem,
		scale:  p.Scale,
		accum:  p.Scale / 2,
	}, nil
}

func (p Params) validate() error {
	if p.Period == 0 {
		return fmt.Errorf("mediaclock: period must be > 0")
	}
	if p.Scale == 0 {
		return fmt.Errorf("mediaclock: scale must be > 0")
	}
	if p.Rem >= p.Scale {
		return fmt.Errorf("mediaclock: remainder %d must be < scale %d", p.Rem, p.Scale)
	}
	return nil
}

// Start anchors the edge time at t.
func (s *Synth) Start(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edgeTime = uint64(t.UnixNano())
	s.accum = s.scale / 2
}

// Advance moves the edge forward by one period and returns the new edge.
func (s *Synth) Advance() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.edgeTime += s.period
	s.accum += s.rem
	if s.accum >= s.scale {
		s.accum -= s.scale
		s.edgeTime++
	}
	return s.edgeTime
}

// EdgeTime returns the last edge without advancing.
func (s *Synth) EdgeTime() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.edgeTime
}

// Params returns the current parameters.
func (s *Synth) Params() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Params{Period: s.period, Rem: s.rem, Scale: s.scale}
}

// Reconfigure swaps in a new target interval. The current edge is kept, so the
// next edge lands exactly one new period after the last one.
func (s *Synth) Reconfigure(p Params) error {
	if err := p.validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.period = p.Period
	s.rem = p.Rem
	s.scale = p.Scale
	s.accum = p.Scale / 2
	return nil
}
