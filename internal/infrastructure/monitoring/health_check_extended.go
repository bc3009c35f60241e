package monitoring

import (
	"context"
	"fmt"
	"time"

	"avbstream/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddRepositoryCheck adds a session store health check
func (h *HealthChecker) AddRepositoryCheck(repo ports.SessionRepository, interval, timeout time.Duration) {
	h.AddCheck("repository", func(ctx context.Context) (bool, error) {
		if _, err := repo.List(ctx); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddSessionReadinessCheck reports ready only while the stream holds its
// reservation.
func (h *HealthChecker) AddSessionReadinessCheck(session ports.SessionService, timeout time.Duration) {
	h.add(HealthCheck{
		Name: "stream",
		Check: func(ctx context.Context) (bool, error) {
			if session.Ready() {
				return true, nil
			}
			st, err := session.Status(ctx)
			if err != nil {
				return false, err
			}
			return false, fmt.Errorf("stream %s not admitted (state %s)", st.StreamID, st.State)
		},
		Timeout:   timeout,
		Readiness: true,
	})
}

// IsReady checks if the stream is admitted and its dependencies answer
func (h *HealthChecker) IsReady(ctx context.Context) bool {
	return h.CheckReady(ctx).Status == StatusHealthy
}
