package redislock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLock(t *testing.T) (*Lock, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run() error = %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client), mr, client
}

func TestAcquireIsExclusive(t *testing.T) {
	first, _, client := newTestLock(t)
	second := New(client)
	ctx := context.Background()

	ok, err := first.Acquire(ctx, "document-queue-tick", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first Acquire() = %v, %v", ok, err)
	}
	ok, err = second.Acquire(ctx, "document-queue-tick", time.Minute)
	if err != nil {
		t.Fatalf("second Acquire() error = %v", err)
	}
	if ok {
		t.Fatalf("second instance must not acquire a held lock")
	}
}

func TestReleaseOnlyByOwner(t *testing.T) {
	owner, mr, client := newTestLock(t)
	other := New(client)
	ctx := context.Background()

	if ok, _ := owner.Acquire(ctx, "tick", time.Minute); !ok {
		t.Fatalf("expected acquire")
	}
	if err := other.Release(ctx, "tick"); err != nil {
		t.Fatalf("Release() by non-owner error = %v", err)
	}
	if !mr.Exists(keyPrefix + "tick") {
		t.Fatalf("non-owner release must not delete the lock")
	}
	if err := owner.Release(ctx, "tick"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if mr.Exists(keyPrefix + "tick") {
		t.Fatalf("owner release must delete the lock")
	}
}

func TestLockExpiresAfterTTL(t *testing.T) {
	first, mr, client := newTestLock(t)
	ctx := context.Background()

	if ok, _ := first.Acquire(ctx, "tick", 10*time.Second); !ok {
		t.Fatalf("expected acquire")
	}
	mr.FastForward(11 * time.Second)

	ok, err := New(client).Acquire(ctx, "tick", 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected acquire after expiry, got %v, %v", ok, err)
	}
}

func TestReleaseWithoutLockIsNoop(t *testing.T) {
	l, _, _ := newTestLock(t)
	if err := l.Release(context.Background(), "never-held"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
}
