package services

import (
	"testing"
	"time"

	"avbstream/internal/core/domain"
	"avbstream/pkg/ringbuffer"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bridgePeriod = 48

func newTestBridge(t *testing.T, ringBytes int, lowWater float64) (*AudioBridge, []*ringbuffer.Ring, *ringbuffer.Preroll, *domain.Counters) {
	t.Helper()
	rings := make([]*ringbuffer.Ring, 2)
	for c := range rings {
		r, err := ringbuffer.New(ringBytes)
		require.NoError(t, err)
		rings[c] = r
	}
	preroll, err := ringbuffer.NewPreroll(ringBytes, 4, lowWater)
	require.NoError(t, err)
	counters := &domain.Counters{}
	return NewAudioBridge(rings, preroll, counters, bridgePeriod, 48000), rings, preroll, counters
}

func periodBuf(value float32) [][]float32 {
	buf := [][]float32{make([]float32, bridgePeriod), make([]float32, bridgePeriod)}
	for c := range buf {
		for i := range buf[c] {
			buf[c][i] = value
		}
	}
	return buf
}

func TestAudioBridge_CaptureAllOrNone(t *testing.T) {
	b, rings, _, counters := newTestBridge(t, 2*bridgePeriod*4, 0.5)

	b.Capture(periodBuf(0.5))
	b.Capture(periodBuf(0.5))
	assert.Equal(t, 2*bridgePeriod*4, rings[0].ReadSpace())

	b.Capture(periodBuf(0.5))
	assert.Equal(t, uint64(1), counters.Snapshot().RingOverruns)
	assert.Equal(t, rings[0].ReadSpace(), rings[1].ReadSpace())
}

func TestAudioBridge_PlaybackSilentUntilPreroll(t *testing.T) {
	b, rings, preroll, counters := newTestBridge(t, 2*bridgePeriod*4, 0.5)

	raw := make([]byte, bridgePeriod*4)
	putFloats(raw, periodBuf(0.25)[0])
	for _, r := range rings {
		r.Write(raw)
	}

	out := periodBuf(1)
	b.Playback(out)
	assert.Equal(t, float32(0), out[0][0], "gate closed")
	assert.Equal(t, float32(0), out[1][bridgePeriod-1])
	assert.Equal(t, bridgePeriod*4, rings[0].ReadSpace(), "nothing consumed")

	preroll.Update(rings[0])
	require.True(t, preroll.Ready())
	b.Playback(out)
	assert.Equal(t, float32(0.25), out[0][0])
	assert.Equal(t, float32(0.25), out[1][bridgePeriod-1])
	assert.Zero(t, counters.Snapshot().Xruns())
}

func TestAudioBridge_UnderrunClosesGate(t *testing.T) {
	// the gate opens with only half a period buffered
	b, rings, preroll, counters := newTestBridge(t, 2*bridgePeriod*4, 0.75)

	for _, r := range rings {
		r.Write(make([]byte, bridgePeriod*2))
	}
	preroll.Update(rings[0])
	require.True(t, preroll.Ready())

	out := periodBuf(1)
	b.Playback(out)
	assert.Equal(t, uint64(1), counters.Snapshot().RingUnderruns)
	assert.False(t, preroll.Ready())
	assert.Equal(t, float32(0), out[0][0])
	assert.Equal(t, float32(0), out[1][bridgePeriod-1])
	assert.Equal(t, bridgePeriod*2, rings[0].ReadSpace(), "partial data left for refill")
}

func TestAudioBridge_LateCallbackCountsUnderrun(t *testing.T) {
	b, _, preroll, counters := newTestBridge(t, 2*bridgePeriod*4, 0.5)

	base := time.Unix(0, 0)
	calls := 0
	b.now = func() time.Time {
		calls++
		if calls%2 == 1 {
			return base
		}
		// 1.5 periods at 48 kHz
		return base.Add(1500 * time.Microsecond)
	}

	b.Playback(periodBuf(0))
	snap := counters.Snapshot()
	assert.Equal(t, uint64(1), snap.LateCallbacks)
	assert.Equal(t, uint64(1), snap.RingUnderruns)
	assert.False(t, preroll.Ready())
}

func TestAudioBridge_OnTimeCallback(t *testing.T) {
	b, _, _, counters := newTestBridge(t, 2*bridgePeriod*4, 0.5)

	base := time.Unix(0, 0)
	b.now = func() time.Time { return base }

	b.Capture(periodBuf(0))
	b.Playback(periodBuf(0))
	assert.Zero(t, counters.Snapshot().LateCallbacks)
}
