package ports

import (
	"context"

	"avbstream/internal/core/domain"
)

// MediaInterface is the capability set a media queue implementation offers
// to the media host.
type MediaInterface interface {
	Configure(key, value string) error
	InitTx() error
	TxStep() bool
	InitRx() error
	RxStep(frame []byte) bool
	End() error
	EnableFixedTimestamp(enabled bool, interval uint32, batch uint32) error
}

// SessionService is what the status API needs from a running session.
type SessionService interface {
	Status(ctx context.Context) (*domain.SessionStatus, error)
	Ready() bool
}
