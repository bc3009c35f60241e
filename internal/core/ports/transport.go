package ports

import (
	"context"

	"avbstream/internal/core/domain"
)

// ControlChannel is the local link to the MRP registration daemon.
type ControlChannel interface {
	Open(ctx context.Context) error
	Send(ctx context.Context, req domain.Request) error
	// RecvEvent waits at most one poll interval and returns domain.ErrNoEvent
	// when nothing arrived.
	RecvEvent(ctx context.Context) (domain.Event, error)
	Close() error
}

// FrameSource yields raw Ethernet frames. ReadFrame is bounded by a poll
// timeout and returns (0, nil) when it expires.
type FrameSource interface {
	ReadFrame(ctx context.Context, buf []byte) (int, error)
}

// FrameSink emits raw Ethernet frames. The frame slice is only valid for the
// duration of the call.
type FrameSink interface {
	WriteFrame(frame []byte) error
}

// AudioEngine drives a periodic real-time callback with one buffer per
// channel of PeriodFrames samples. Talker engines fill the buffers before the
// callback; listener engines consume them after it.
type AudioEngine interface {
	Start(ctx context.Context, process func(buf [][]float32)) error
	PeriodFrames() int
	Stop() error
}
