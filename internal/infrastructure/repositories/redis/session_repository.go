package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"avbstream/internal/core/domain"
	"avbstream/internal/core/ports"
	"avbstream/pkg/tracing"

	"github.com/redis/go-redis/v9"
)

// RedisSessionRepository keeps each status as a JSON string with a TTL and
// a sorted set of IDs scored by start time. Index entries whose status
// expired are pruned on List.
type RedisSessionRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisSessionRepository(client *redis.Client, prefix string, ttl time.Duration) ports.SessionRepository {
	return &RedisSessionRepository{
		client: client,
		prefix: prefix + "session:",
		ttl:    ttl,
	}
}

func (r *RedisSessionRepository) sessionKey(id domain.SessionID) string {
	return r.prefix + string(id)
}

func (r *RedisSessionRepository) indexKey() string {
	return r.prefix + "index"
}

func (r *RedisSessionRepository) Save(ctx context.Context, status *domain.SessionStatus) error {
	ctx, span := tracing.TraceStoreOperation(ctx, "save", r.sessionKey(status.ID))
	defer span.End()

	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.sessionKey(status.ID), data, r.ttl)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{
			Score:  float64(status.StartedAt.UnixNano()),
			Member: string(status.ID),
		})
		return nil
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("failed to save session in Redis: %w", err)
	}
	return nil
}

func (r *RedisSessionRepository) GetByID(ctx context.Context, id domain.SessionID) (*domain.SessionStatus, error) {
	ctx, span := tracing.TraceStoreOperation(ctx, "get", r.sessionKey(id))
	defer span.End()

	data, err := r.client.Get(ctx, r.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}
	return decodeStatus(data)
}

// List returns every live session, oldest first.
func (r *RedisSessionRepository) List(ctx context.Context) ([]*domain.SessionStatus, error) {
	ctx, span := tracing.TraceStoreOperation(ctx, "list", r.indexKey())
	defer span.End()

	ids, err := r.client.ZRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read session index: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.SessionStatus{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.sessionKey(domain.SessionID(id))
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read sessions: %w", err)
	}

	out := make([]*domain.SessionStatus, 0, len(values))
	var expired []interface{}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		status, err := decodeStatus([]byte(s))
		if err != nil {
			return nil, err
		}
		out = append(out, status)
	}
	if len(expired) > 0 {
		// best effort; a failed prune is retried on the next List
		_ = r.client.ZRem(ctx, r.indexKey(), expired...).Err()
	}
	return out, nil
}

func (r *RedisSessionRepository) Delete(ctx context.Context, id domain.SessionID) error {
	ctx, span := tracing.TraceStoreOperation(ctx, "delete", r.sessionKey(id))
	defer span.End()

	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.sessionKey(id))
		pipe.ZRem(ctx, r.indexKey(), string(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete session from Redis: %w", err)
	}
	if del.Val() == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

func decodeStatus(data []byte) (*domain.SessionStatus, error) {
	var status domain.SessionStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &status, nil
}
