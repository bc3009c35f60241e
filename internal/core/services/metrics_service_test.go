package services

import (
	"testing"
	"time"

	"avbstream/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMetricsService_ReportsDelta(t *testing.T) {
	counters := &domain.Counters{}
	m := NewMetricsService(counters, time.Second, time.Hour, nopLogger())

	counters.FramesSent.Add(10)
	assert.Equal(t, uint64(10), m.Report().FramesSent)

	counters.FramesSent.Add(3)
	delta := m.Report()
	assert.Equal(t, uint64(3), delta.FramesSent)
	assert.Zero(t, delta.Drops())
}

func TestMetricsService_WarningsRateLimited(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	counters := &domain.Counters{}
	m := NewMetricsService(counters, time.Second, time.Hour, zap.New(core).Sugar())

	counters.RingOverruns.Add(1)
	m.Report()
	counters.DropMalformed.Add(1)
	m.Report()
	m.Report()

	assert.Equal(t, 1, logs.FilterMessage("stream degraded").Len())
}

func TestMetricsService_OnReport(t *testing.T) {
	counters := &domain.Counters{}
	m := NewMetricsService(counters, time.Second, time.Hour, nopLogger())

	var got []uint64
	m.OnReport(func(delta domain.CounterSnapshot) { got = append(got, delta.DropStreamID) })

	counters.DropStreamID.Add(4)
	m.Report()
	m.Report()
	assert.Equal(t, []uint64{4, 0}, got)
}
