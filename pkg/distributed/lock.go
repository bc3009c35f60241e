// Package distributed holds coordination primitives shared between
// processes through Redis.
package distributed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrHeld is returned by TryLock when another owner holds the key.
	ErrHeld = errors.New("lock held by another owner")
	// ErrNotHeld is returned by Unlock when the key no longer names us.
	ErrNotHeld = errors.New("lock not held")
)

// extend and release only touch the key while it still names the owner.
var (
	extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)
)

// Lock is an exclusive, expiring claim on one Redis key. While held, a
// goroutine extends it every third of the TTL. Lost is closed when the claim
// is taken over or could not be extended before it expired.
type Lock struct {
	client *redis.Client
	key    string
	owner  string
	ttl    time.Duration

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
	lost chan struct{}
}

func NewLock(client *redis.Client, key, owner string, ttl time.Duration) *Lock {
	return &Lock{
		client: client,
		key:    key,
		owner:  owner,
		ttl:    ttl,
		lost:   make(chan struct{}),
	}
}

// TryLock acquires the key without waiting. ErrHeld names the current owner.
func (l *Lock) TryLock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop != nil {
		return nil
	}

	ok, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire %s: %w", l.key, err)
	}
	if !ok {
		holder, err := l.client.Get(ctx, l.key).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("failed to read %s: %w", l.key, err)
		}
		return fmt.Errorf("%w (%s)", ErrHeld, holder)
	}

	l.stop = make(chan struct{})
	l.done = make(chan struct{})
	go l.keepAlive(l.stop, l.done)
	return nil
}

func (l *Lock) keepAlive(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	lastOK := time.Now()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int64()
			cancel()

			switch {
			case err == nil && n == 1:
				lastOK = time.Now()
			case err == nil || time.Since(lastOK) >= l.ttl:
				close(l.lost)
				return
			}
		}
	}
}

// Lost is closed once the claim is gone.
func (l *Lock) Lost() <-chan struct{} { return l.lost }

// Unlock stops the extension and deletes the key if it still names us.
func (l *Lock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	stop, done := l.stop, l.done
	l.stop, l.done = nil, nil
	l.mu.Unlock()

	if stop == nil {
		return ErrNotHeld
	}
	close(stop)
	<-done

	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.owner).Int64()
	if err != nil {
		return fmt.Errorf("failed to release %s: %w", l.key, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// Owner returns the current holder of key, or "" when it is free.
func Owner(ctx context.Context, client *redis.Client, key string) (string, error) {
	owner, err := client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return owner, err
}
