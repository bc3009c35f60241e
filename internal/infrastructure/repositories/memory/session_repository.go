package memory

import (
	"context"
	"sort"
	"sync"

	"avbstream/internal/core/domain"
	"avbstream/internal/core/ports"
)

type MemorySessionRepository struct {
	sessions map[domain.SessionID]domain.SessionStatus
	mu       sync.RWMutex
}

func NewMemorySessionRepository() ports.SessionRepository {
	return &MemorySessionRepository{
		sessions: make(map[domain.SessionID]domain.SessionStatus),
	}
}

// Save stores a copy; later changes to status are not visible.
func (r *MemorySessionRepository) Save(ctx context.Context, status *domain.SessionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[status.ID] = clone(status)
	return nil
}

func (r *MemorySessionRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.SessionStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status, exists := r.sessions[id]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}
	out := clone(&status)
	return &out, nil
}

// List returns every session, oldest first.
func (r *MemorySessionRepository) List(ctx context.Context) ([]*domain.SessionStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.SessionStatus, 0, len(r.sessions))
	for _, status := range r.sessions {
		s := clone(&status)
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out, nil
}

func (r *MemorySessionRepository) Delete(ctx context.Context, id domain.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; !exists {
		return domain.ErrSessionNotFound
	}
	delete(r.sessions, id)
	return nil
}

func clone(s *domain.SessionStatus) domain.SessionStatus {
	c := *s
	if s.Domain != nil {
		d := *s.Domain
		c.Domain = &d
	}
	return c
}
