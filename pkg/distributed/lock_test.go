package distributed

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("AVBSTREAM_TEST_REDIS")
	if addr == "" {
		t.Skip("AVBSTREAM_TEST_REDIS not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestLock_Exclusive(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	key := "avbstream-test:" + t.Name()
	client.Del(ctx, key)

	a := NewLock(client, key, "session-a", time.Second)
	b := NewLock(client, key, "session-b", time.Second)

	if err := a.TryLock(ctx); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if err := b.TryLock(ctx); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}

	// survives past its TTL while extended
	time.Sleep(1500 * time.Millisecond)
	if owner, err := Owner(ctx, client, key); err != nil || owner != "session-a" {
		t.Fatalf("expected session-a to still hold the key, got %q, %v", owner, err)
	}

	if err := a.Unlock(ctx); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if err := a.Unlock(ctx); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld on second unlock, got %v", err)
	}
	if err := b.TryLock(ctx); err != nil {
		t.Fatalf("claim after release failed: %v", err)
	}
	b.Unlock(ctx)
}

func TestLock_LostOnTakeover(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	key := "avbstream-test:" + t.Name()
	client.Del(ctx, key)

	l := NewLock(client, key, "session-a", 300*time.Millisecond)
	if err := l.TryLock(ctx); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	client.Set(ctx, key, "intruder", time.Minute)

	select {
	case <-l.Lost():
	case <-time.After(2 * time.Second):
		t.Fatal("takeover not detected")
	}
	if err := l.Unlock(ctx); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld, got %v", err)
	}
	client.Del(ctx, key)
}

func TestLock_UnlockWithoutLock(t *testing.T) {
	l := NewLock(nil, "k", "owner", time.Second)
	if err := l.Unlock(context.Background()); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld, got %v", err)
	}
}
