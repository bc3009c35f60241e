// Package audio provides a software audio engine for hosts without a sound
// server. A ticker stands in for the hardware period interrupt.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"avbstream/internal/core/ports"

	"go.uber.org/zap"
)

var ErrEngineRunning = errors.New("audio engine already running")

type EngineConfig struct {
	Channels     int
	SampleRate   uint32
	PeriodFrames int
}

func (c EngineConfig) Period() time.Duration {
	return time.Duration(c.PeriodFrames) * time.Second / time.Duration(c.SampleRate)
}

// Generator fills one period of capture buffers.
type Generator interface {
	Generate(buf [][]float32)
}

// Consumer receives one period of playback buffers.
type Consumer interface {
	Consume(buf [][]float32)
}

// TickerEngine calls the process callback once per period. Capture buffers
// are filled by the generator before the callback and playback buffers are
// handed to the consumer after it.
type TickerEngine struct {
	cfg    EngineConfig
	gen    Generator
	sink   Consumer
	logger *zap.SugaredLogger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	cycles uint64
}

var _ ports.AudioEngine = (*TickerEngine)(nil)

func NewTickerEngine(cfg EngineConfig, gen Generator, sink Consumer, logger *zap.SugaredLogger) (*TickerEngine, error) {
	if cfg.Channels <= 0 || cfg.PeriodFrames <= 0 || cfg.SampleRate == 0 {
		return nil, fmt.Errorf("audio engine: invalid layout %+v", cfg)
	}
	return &TickerEngine{cfg: cfg, gen: gen, sink: sink, logger: logger}, nil
}

func (e *TickerEngine) PeriodFrames() int { return e.cfg.PeriodFrames }

func (e *TickerEngine) Start(ctx context.Context, process func(buf [][]float32)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return ErrEngineRunning
	}

	buf := make([][]float32, e.cfg.Channels)
	for c := range buf {
		buf[c] = make([]float32, e.cfg.PeriodFrames)
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.run(ctx, process, buf, e.done)

	e.logger.Infow("audio engine started",
		"channels", e.cfg.Channels,
		"period_frames", e.cfg.PeriodFrames,
		"period", e.cfg.Period(),
	)
	return nil
}

func (e *TickerEngine) run(ctx context.Context, process func([][]float32), buf [][]float32, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.cfg.Period())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.gen != nil {
				e.gen.Generate(buf)
			}
			process(buf)
			if e.sink != nil {
				e.sink.Consume(buf)
			}
			e.mu.Lock()
			e.cycles++
			e.mu.Unlock()
		}
	}
}

// Cycles is the number of completed periods.
func (e *TickerEngine) Cycles() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cycles
}

// Stop waits for the period goroutine to exit. Stopping an idle engine is a
// no-op.
func (e *TickerEngine) Stop() error {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel, e.done = nil, nil
	e.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	e.logger.Infow("audio engine stopped", "cycles", e.Cycles())
	return nil
}
