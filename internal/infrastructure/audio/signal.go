package audio

import (
	"fmt"
	"math"
	"sync"
)

const (
	SourceSilence = "silence"
	SourceTone    = "tone"
)

// NewGenerator returns the capture source named by kind.
func NewGenerator(kind string, sampleRate uint32, toneHz, gain float64) (Generator, error) {
	switch kind {
	case "", SourceSilence:
		return Silence{}, nil
	case SourceTone:
		return NewTone(sampleRate, toneHz, gain)
	default:
		return nil, fmt.Errorf("audio: unknown source %q", kind)
	}
}

type Silence struct{}

func (Silence) Generate(buf [][]float32) {
	for _, ch := range buf {
		clear(ch)
	}
}

// Tone is a sine wave written identically to every channel.
type Tone struct {
	step  float64
	gain  float32
	phase float64
}

func NewTone(sampleRate uint32, hz, gain float64) (*Tone, error) {
	if sampleRate == 0 || hz <= 0 || hz >= float64(sampleRate)/2 {
		return nil, fmt.Errorf("audio: tone %.1f Hz out of range for %d Hz", hz, sampleRate)
	}
	if gain < 0 || gain > 1 {
		return nil, fmt.Errorf("audio: gain %.2f out of [0,1]", gain)
	}
	return &Tone{step: 2 * math.Pi * hz / float64(sampleRate), gain: float32(gain)}, nil
}

func (t *Tone) Generate(buf [][]float32) {
	if len(buf) == 0 {
		return
	}
	phase := t.phase
	for i := range buf[0] {
		v := t.gain * float32(math.Sin(phase))
		for _, ch := range buf {
			ch[i] = v
		}
		phase += t.step
	}
	t.phase = math.Mod(phase, 2*math.Pi)
}

// LevelMeter tracks per-channel peak and RMS of the playback signal.
type LevelMeter struct {
	mu      sync.Mutex
	peak    []float32
	sumSq   []float64
	samples uint64
}

func NewLevelMeter(channels int) *LevelMeter {
	return &LevelMeter{
		peak:  make([]float32, channels),
		sumSq: make([]float64, channels),
	}
}

func (m *LevelMeter) Consume(buf [][]float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for c, ch := range buf {
		if c >= len(m.peak) {
			break
		}
		for _, v := range ch {
			a := v
			if a < 0 {
				a = -a
			}
			if a > m.peak[c] {
				m.peak[c] = a
			}
			m.sumSq[c] += float64(v) * float64(v)
		}
	}
	if len(buf) > 0 {
		m.samples += uint64(len(buf[0]))
	}
}

type Levels struct {
	Peak    []float32 `json:"peak"`
	RMS     []float64 `json:"rms"`
	Samples uint64    `json:"samples"`
}

// Snapshot returns the levels since the previous snapshot and resets them.
func (m *LevelMeter) Snapshot() Levels {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := Levels{
		Peak:    append([]float32(nil), m.peak...),
		RMS:     make([]float64, len(m.sumSq)),
		Samples: m.samples,
	}
	for c, s := range m.sumSq {
		if m.samples > 0 {
			l.RMS[c] = math.Sqrt(s / float64(m.samples))
		}
	}
	clear(m.peak)
	clear(m.sumSq)
	m.samples = 0
	return l
}
