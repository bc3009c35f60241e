package ports

import (
	"context"

	"avbstream/internal/core/domain"
)

// SessionRepository persists session status snapshots for the status API.
type SessionRepository interface {
	Save(ctx context.Context, status *domain.SessionStatus) error
	GetByID(ctx context.Context, id domain.SessionID) (*domain.SessionStatus, error)
	List(ctx context.Context) ([]*domain.SessionStatus, error)
	Delete(ctx context.Context, id domain.SessionID) error
}
