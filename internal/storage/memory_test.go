package storage

import (
	"context"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/checkpoint/internal/clock"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestMemoryStore_SetExpires(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	s := NewMemoryStore(vc)
	ctx := context.Background()

	if err := s.Set(ctx, "k", 9, 10*time.Second); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	vc.Advance(9 * time.Second)
	if _, ok, _ := s.Get(ctx, "k"); !ok {
		t.Fatal("key should still exist before expiry")
	}

	vc.Advance(time.Second)
	if _, ok, _ := s.Get(ctx, "k"); ok {
		t.Fatal("key should have expired")
	}
	if n, _ := s.Increment(ctx, "k"); n != 1 {
		t.Errorf("Increment() after expiry = %d, want 1", n)
	}
}

func TestMemoryStore_ZTrimAddCountTTL(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	s := NewMemoryStore(vc)
	ctx := context.Background()

	if _, err := s.ZTrimAddCount(ctx, "log", 0, 1, "a", time.Minute); err != nil {
		t.Fatalf("ZTrimAddCount() error = %v", err)
	}
	vc.Advance(30 * time.Second)
	if _, err := s.ZTrimAddCount(ctx, "log", 0, 2, "b", time.Minute); err != nil {
		t.Fatalf("ZTrimAddCount() error = %v", err)
	}

	// Each call refreshes the ttl.
	vc.Advance(45 * time.Second)
	if ok, _ := s.Exists(ctx, "log"); !ok {
		t.Fatal("log should survive while touched within its ttl")
	}
	vc.Advance(15 * time.Second)
	if ok, _ := s.Exists(ctx, "log"); ok {
		t.Fatal("log should expire after a full ttl of inactivity")
	}
}

func TestMemoryStore_CleanupAndLen(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	s := NewMemoryStore(vc)
	ctx := context.Background()

	_ = s.Set(ctx, "short", 1, time.Second)
	_ = s.Set(ctx, "forever", 1, 0)

	if got := s.Len(); got != 2 {
		t.Fatalf("Len() = %d, want 2", got)
	}
	vc.Advance(2 * time.Second)
	s.Cleanup()
	if got := s.Len(); got != 1 {
		t.Errorf("Len() after Cleanup = %d, want 1", got)
	}
}

func TestMemoryStore_EmptyZSetIsRemoved(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	_ = s.ZAdd(ctx, "z", 5, "m")
	if _, err := s.ZRemoveRangeByScore(ctx, "z", 10); err != nil {
		t.Fatalf("ZRemoveRangeByScore() error = %v", err)
	}
	if ok, _ := s.Exists(ctx, "z"); ok {
		t.Error("empty sorted set should not exist")
	}
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Increment(ctx, "k"); err != context.Canceled {
		t.Errorf("Increment() error = %v, want context.Canceled", err)
	}
}

func TestMemoryStore_CloseIdempotent(t *testing.T) {
	s := NewMemoryStore(nil)
	_ = s.Set(context.Background(), "k", 1, 0)

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if got := s.Len(); got != 0 {
		t.Errorf("Len() after Close = %d, want 0", got)
	}
}
