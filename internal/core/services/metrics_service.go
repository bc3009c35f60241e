package services

import (
	"context"
	"time"

	"avbstream/internal/core/domain"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// MetricsService periodically diffs the data-plane counters and logs what
// changed. Warnings about drops and xruns are rate limited so a persistent
// fault does not flood the log.
type MetricsService struct {
	counters *domain.Counters
	interval time.Duration
	logger   *zap.SugaredLogger
	warn     *rate.Limiter
	onReport []func(delta domain.CounterSnapshot)

	prev domain.CounterSnapshot
}

func NewMetricsService(counters *domain.Counters, interval time.Duration, warnEvery time.Duration, logger *zap.SugaredLogger) *MetricsService {
	if warnEvery <= 0 {
		warnEvery = 10 * time.Second
	}
	return &MetricsService{
		counters: counters,
		interval: interval,
		logger:   logger,
		warn:     rate.NewLimiter(rate.Every(warnEvery), 1),
	}
}

// OnReport registers fn to receive every delta. It must be called before Run.
func (m *MetricsService) OnReport(fn func(delta domain.CounterSnapshot)) {
	m.onReport = append(m.onReport, fn)
}

// Run reports until ctx is done.
func (m *MetricsService) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Report()
		}
	}
}

// Report logs the counter delta since the previous report and returns it.
func (m *MetricsService) Report() domain.CounterSnapshot {
	snap := m.counters.Snapshot()
	delta := snap.Sub(m.prev)
	m.prev = snap
	for _, fn := range m.onReport {
		fn(delta)
	}

	m.logger.Debugw("stream counters",
		"frames_received", delta.FramesReceived,
		"frames_delivered", delta.FramesDelivered,
		"frames_sent", delta.FramesSent,
	)
	if (delta.Drops() > 0 || delta.Xruns() > 0 || delta.SendErrors > 0) && m.warn.Allow() {
		m.logger.Warnw("stream degraded",
			"drop_too_short", delta.DropTooShort,
			"drop_dest_mac", delta.DropDestMAC,
			"drop_stream_id", delta.DropStreamID,
			"drop_malformed", delta.DropMalformed,
			"drop_not_admitted", delta.DropNotAdmitted,
			"overruns", delta.RingOverruns,
			"underruns", delta.RingUnderruns,
			"late_callbacks", delta.LateCallbacks,
			"send_errors", delta.SendErrors,
		)
	}
	return delta
}
