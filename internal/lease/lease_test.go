package lease

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisLockerExclusive(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	locker := NewRedisLocker(client)
	ctx := context.Background()

	first, err := locker.Acquire(ctx, "swap:w1", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := locker.Acquire(ctx, "swap:w1", time.Minute); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected held error, got %v", err)
	}
	if _, err := locker.Acquire(ctx, "swap:w2", time.Minute); err != nil {
		t.Fatalf("other key should be free: %v", err)
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := locker.Acquire(ctx, "swap:w1", time.Minute); err != nil {
		t.Fatalf("expected lease to be free after release: %v", err)
	}
}

func TestRedisLeaseExpiryDoesNotReleaseNewHolder(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	locker := NewRedisLocker(client)
	ctx := context.Background()

	stale, err := locker.Acquire(ctx, "swap:w1", time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	mr.FastForward(2 * time.Second)

	if _, err := locker.Acquire(ctx, "swap:w1", time.Minute); err != nil {
		t.Fatalf("expected expired lease to be free: %v", err)
	}
	if err := stale.Release(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if _, err := locker.Acquire(ctx, "swap:w1", time.Minute); !errors.Is(err, ErrHeld) {
		t.Fatalf("stale release must not free the new holder, got %v", err)
	}
}

func TestMemoryLocker(t *testing.T) {
	locker := NewMemoryLocker()
	now := time.Now()
	locker.clock = func() time.Time { return now }
	ctx := context.Background()

	l, err := locker.Acquire(ctx, "k", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := locker.Acquire(ctx, "k", time.Minute); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected held, got %v", err)
	}
	now = now.Add(2 * time.Minute)
	if _, err := locker.Acquire(ctx, "k", time.Minute); err != nil {
		t.Fatalf("expected expiry to free lease: %v", err)
	}
	_ = l.Release(ctx)
	if _, err := locker.Acquire(ctx, "k", time.Minute); !errors.Is(err, ErrHeld) {
		t.Fatalf("old release must not free the new holder")
	}
}
