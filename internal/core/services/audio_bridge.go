package services

import (
	"time"

	"avbstream/internal/core/domain"
	"avbstream/pkg/ringbuffer"
)

// AudioBridge is the audio-callback side of the per-channel rings: Capture
// feeds a talker's rings, Playback drains a listener's. Both run on the
// real-time callback and never block or allocate.
type AudioBridge struct {
	rings    []*ringbuffer.Ring
	preroll  *ringbuffer.Preroll
	counters *domain.Counters
	period   time.Duration
	now      func() time.Time

	raw []byte
}

func NewAudioBridge(rings []*ringbuffer.Ring, preroll *ringbuffer.Preroll, counters *domain.Counters, periodFrames int, sampleRate uint32) *AudioBridge {
	return &AudioBridge{
		rings:    rings,
		preroll:  preroll,
		counters: counters,
		period:   time.Duration(periodFrames) * time.Second / time.Duration(sampleRate),
		now:      time.Now,
		raw:      make([]byte, periodFrames*4),
	}
}

// Capture pushes one period from the engine into the rings. If any ring
// lacks space the whole period is dropped and counted as an overrun.
func (b *AudioBridge) Capture(in [][]float32) {
	start := b.now()
	defer b.checkDeadline(start)

	if len(in) == 0 {
		return
	}
	need := len(in[0]) * 4
	if need > len(b.raw) {
		b.raw = make([]byte, need)
	}
	for c := range in {
		if b.rings[c].WriteSpace() < need {
			b.counters.RingOverruns.Add(1)
			return
		}
	}
	for c := range in {
		putFloats(b.raw[:need], in[c])
		b.rings[c].Write(b.raw[:need])
	}
}

// Playback fills out with one period from the rings. Output is silence until
// the pre-roll gate opens; an underrun emits silence and closes the gate so
// the rings refill before playback resumes.
func (b *AudioBridge) Playback(out [][]float32) {
	start := b.now()
	defer b.checkDeadline(start)

	if len(out) == 0 {
		return
	}
	if !b.preroll.Ready() {
		silence(out)
		return
	}
	need := len(out[0]) * 4
	if need > len(b.raw) {
		b.raw = make([]byte, need)
	}
	for c := range out {
		if b.rings[c].ReadSpace() < need {
			b.counters.RingUnderruns.Add(1)
			b.preroll.Reset()
			silence(out)
			return
		}
	}
	for c := range out {
		b.rings[c].Read(b.raw[:need])
		getFloats(out[c], b.raw[:need])
	}
}

// A callback that overran its period counts as an underrun.
func (b *AudioBridge) checkDeadline(start time.Time) {
	if b.now().Sub(start) <= b.period {
		return
	}
	b.counters.LateCallbacks.Add(1)
	b.counters.RingUnderruns.Add(1)
	b.preroll.Reset()
}

func silence(out [][]float32) {
	for c := range out {
		clear(out[c])
	}
}
