package transport

import (
	"context"
	"errors"
	"sync/atomic"

	"avbstream/internal/core/ports"
	"avbstream/pkg/circuitbreaker"

	"go.uber.org/zap"
)

// GuardedSink stops hammering a failing link. While the breaker is open
// WriteFrame fails fast and the framer counts a send error per frame.
type GuardedSink struct {
	next    ports.FrameSink
	breaker *circuitbreaker.CircuitBreaker

	rejected atomic.Uint64
}

var _ ports.FrameSink = (*GuardedSink)(nil)

func NewGuardedSink(next ports.FrameSink, cfg circuitbreaker.Config, logger *zap.SugaredLogger) *GuardedSink {
	cb := circuitbreaker.New(cfg)
	cb.OnStateChange(func(from, to circuitbreaker.State) {
		if to == circuitbreaker.StateOpen {
			logger.Warnw("frame sink breaker opened", "from", from.String())
			return
		}
		logger.Infow("frame sink breaker state changed", "from", from.String(), "to", to.String())
	})
	return &GuardedSink{next: next, breaker: cb}
}

func (g *GuardedSink) WriteFrame(frame []byte) error {
	err := g.breaker.Execute(context.Background(), func() error {
		return g.next.WriteFrame(frame)
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		g.rejected.Add(1)
	}
	return err
}

// Rejected is the number of frames dropped without reaching the link.
func (g *GuardedSink) Rejected() uint64 { return g.rejected.Load() }

func (g *GuardedSink) State() circuitbreaker.State { return g.breaker.GetState() }
