package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"avbstream/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStream struct {
	counters domain.Counters
	state    domain.StreamState
}

func (f *fakeStream) Counters() *domain.Counters { return &f.counters }
func (f *fakeStream) State() domain.StreamState  { return f.state }
func (f *fakeStream) Ready() bool                { return f.state == domain.StateAdmitted }
func (f *fakeStream) Status(context.Context) (*domain.SessionStatus, error) {
	return &domain.SessionStatus{StreamID: "000000000e800000", State: f.state.String()}, nil
}

func TestPrometheusCollector_ReadsCountersAtScrape(t *testing.T) {
	reg := prometheus.NewRegistry()
	src := &fakeStream{state: domain.StateAdmitted}
	c := NewPrometheusCollector(reg, domain.NewStreamID(0x0e, 0x80), domain.RoleListener, src)

	src.counters.FramesReceived.Add(12)
	src.counters.RingUnderruns.Add(2)

	assert.Equal(t, 12.0, testutil.ToFloat64(c.framesReceived))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.ringUnderruns))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.admitted))
	assert.Equal(t, float64(domain.StateAdmitted), testutil.ToFloat64(c.state))

	src.state = domain.StateJoining
	assert.Equal(t, 0.0, testutil.ToFloat64(c.admitted))
}

func TestPrometheusCollector_UpdateDrops(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg, domain.NewStreamID(0x0e, 0x80), domain.RoleListener, &fakeStream{})

	c.UpdateDrops(domain.CounterSnapshot{DropStreamID: 3})
	c.UpdateDrops(domain.CounterSnapshot{DropStreamID: 1, DropMalformed: 2})

	assert.Equal(t, 4.0, testutil.ToFloat64(c.drops.WithLabelValues("stream_id")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.drops.WithLabelValues("malformed")))

	n, err := testutil.GatherAndCount(reg, "avbstream_frames_dropped_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestHealthChecker_ReadinessSeparate(t *testing.T) {
	h := NewHealthChecker(zap.NewNop().Sugar())
	src := &fakeStream{state: domain.StateJoining}

	h.AddCheck("ok", func(context.Context) (bool, error) { return true, nil }, 0, time.Second)
	h.AddSessionReadinessCheck(src, time.Second)

	live := h.CheckAll(context.Background())
	assert.Equal(t, StatusHealthy, live.Status)
	assert.NotContains(t, live.Checks, "stream")

	ready := h.CheckReady(context.Background())
	assert.Equal(t, StatusUnhealthy, ready.Status)
	assert.Contains(t, ready.Checks["stream"], "not admitted")
	assert.False(t, h.IsReady(context.Background()))

	src.state = domain.StateAdmitted
	assert.True(t, h.IsReady(context.Background()))
}

func TestHealthChecker_FailingCheck(t *testing.T) {
	h := NewHealthChecker(zap.NewNop().Sugar())
	h.AddCheck("store", func(context.Context) (bool, error) { return false, errors.New("connection refused") }, 0, time.Second)
	h.AddCheck("quiet", func(context.Context) (bool, error) { return false, nil }, 0, time.Second)

	st := h.CheckAll(context.Background())
	assert.Equal(t, StatusUnhealthy, st.Status)
	assert.Equal(t, "connection refused", st.Checks["store"])
	assert.Equal(t, "check failed", st.Checks["quiet"])
}

func TestHealthChecker_BackgroundChecks(t *testing.T) {
	h := NewHealthChecker(zap.NewNop().Sugar())
	h.AddCheck("tick", func(context.Context) (bool, error) { return true, nil }, 5*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.StartBackgroundChecks(ctx)

	require.Eventually(t, func() bool { return h.Last()["tick"] == StatusHealthy }, time.Second, 5*time.Millisecond)
}
