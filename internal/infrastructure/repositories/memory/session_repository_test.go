package memory

import (
	"context"
	"testing"
	"time"

	"avbstream/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStatus(id string, started time.Time) *domain.SessionStatus {
	return &domain.SessionStatus{
		ID:        domain.SessionID(id),
		StreamID:  "000000000e800000",
		Role:      domain.RoleListener,
		State:     "admitted",
		Domain:    &domain.DomainAttribute{Class: domain.ClassA, Priority: 3, VID: 2},
		StartedAt: started,
	}
}

func TestMemorySessionRepository_SaveGetIsolated(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	st := testStatus("a", time.Unix(100, 0))
	require.NoError(t, repo.Save(ctx, st))

	st.State = "failed"
	st.Domain.VID = 9

	got, err := repo.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "admitted", got.State)
	assert.Equal(t, uint16(2), got.Domain.VID)

	got.State = "leaving"
	again, err := repo.GetByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "admitted", again.State)
}

func TestMemorySessionRepository_ListOrdered(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, testStatus("late", time.Unix(300, 0))))
	require.NoError(t, repo.Save(ctx, testStatus("early", time.Unix(100, 0))))
	require.NoError(t, repo.Save(ctx, testStatus("early", time.Unix(100, 0))))

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.SessionID("early"), list[0].ID)
	assert.Equal(t, domain.SessionID("late"), list[1].ID)
}

func TestMemorySessionRepository_NotFound(t *testing.T) {
	repo := NewMemorySessionRepository()
	ctx := context.Background()

	_, err := repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "missing"), domain.ErrSessionNotFound)

	require.NoError(t, repo.Save(ctx, testStatus("x", time.Now())))
	require.NoError(t, repo.Delete(ctx, "x"))
	_, err = repo.GetByID(ctx, "x")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}
