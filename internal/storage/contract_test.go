package storage

import (
	"context"
	"errors"
	"math"
	"strconv"
	"sync"
	"testing"
	"time"
)

type storeFactory struct {
	name string
	new  func(t *testing.T) (Store, func())
}

func TestStoreContract(t *testing.T) {
	factories := []storeFactory{
		{
			name: "memory",
			new: func(t *testing.T) (Store, func()) {
				s := NewMemoryStore(nil)
				return s, func() { _ = s.Close() }
			},
		},
		{
			name: "redis",
			new: func(t *testing.T) (Store, func()) {
				t.Helper()
				return newRedisStoreForTest(t)
			},
		},
	}

	for _, f := range factories {
		t.Run(f.name, func(t *testing.T) {
			store, cleanup := f.new(t)
			defer cleanup()

			contractCounters(t, store)
			contractExistsDelete(t, store)
			contractAppendAndLen(t, store)
			contractSortedSet(t, store)
			contractZTrimAddCount(t, store)
			contractTakeToken(t, store)
			contractAdjustClamped(t, store)
			contractConcurrentIncrement(t, store)
			contractWrongType(t, store)
		})
	}
}

func contractCounters(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	key := "contract:counter"

	if _, ok, err := s.Get(ctx, key); err != nil || ok {
		t.Fatalf("Get(missing) = ok %v, err %v; want absent", ok, err)
	}
	if n, err := s.Increment(ctx, key); err != nil || n != 1 {
		t.Fatalf("Increment() = %d, %v; want 1", n, err)
	}
	if n, err := s.IncrementBy(ctx, key, 4); err != nil || n != 5 {
		t.Fatalf("IncrementBy(4) = %d, %v; want 5", n, err)
	}
	if n, err := s.Decrement(ctx, key); err != nil || n != 4 {
		t.Fatalf("Decrement() = %d, %v; want 4", n, err)
	}
	if err := s.Set(ctx, key, 42, 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if n, ok, err := s.Get(ctx, key); err != nil || !ok || n != 42 {
		t.Fatalf("Get() = %d, %v, %v; want 42", n, ok, err)
	}
	if n, err := s.Decrement(ctx, "contract:fresh-decr"); err != nil || n != -1 {
		t.Fatalf("Decrement(missing) = %d, %v; want -1", n, err)
	}
}

func contractExistsDelete(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	key := "contract:exists"

	if ok, err := s.Exists(ctx, key); err != nil || ok {
		t.Fatalf("Exists(missing) = %v, %v", ok, err)
	}
	if err := s.Set(ctx, key, 1, 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if ok, err := s.Exists(ctx, key); err != nil || !ok {
		t.Fatalf("Exists() = %v, %v; want true", ok, err)
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if ok, _ := s.Exists(ctx, key); ok {
		t.Fatal("key should be gone after Delete()")
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete(missing) error = %v", err)
	}
}

func contractAppendAndLen(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	key := "contract:list"

	for i := 1; i <= 3; i++ {
		n, err := s.AppendAndLen(ctx, key, strconv.Itoa(i))
		if err != nil {
			t.Fatalf("AppendAndLen() error = %v", err)
		}
		if n != int64(i) {
			t.Fatalf("AppendAndLen() = %d, want %d", n, i)
		}
	}
	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if n, _ := s.AppendAndLen(ctx, key, "x"); n != 1 {
		t.Fatalf("AppendAndLen() after delete = %d, want 1", n)
	}
}

func contractSortedSet(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	key := "contract:zset"

	for i := int64(1); i <= 5; i++ {
		if err := s.ZAdd(ctx, key, i*10, "m"+strconv.FormatInt(i, 10)); err != nil {
			t.Fatalf("ZAdd() error = %v", err)
		}
	}
	if n, err := s.ZCountByScoreRange(ctx, key, 20, 40); err != nil || n != 3 {
		t.Fatalf("ZCountByScoreRange(20, 40) = %d, %v; want 3", n, err)
	}
	if n, err := s.ZRemoveRangeByScore(ctx, key, 20); err != nil || n != 2 {
		t.Fatalf("ZRemoveRangeByScore(20) = %d, %v; want 2", n, err)
	}
	if n, err := s.ZCountByScoreRange(ctx, key, 0, 100); err != nil || n != 3 {
		t.Fatalf("ZCountByScoreRange(0, 100) = %d, %v; want 3", n, err)
	}
	if n, err := s.ZCountByScoreRange(ctx, "contract:zset-missing", 0, 100); err != nil || n != 0 {
		t.Fatalf("ZCountByScoreRange(missing) = %d, %v; want 0", n, err)
	}
}

func contractZTrimAddCount(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	key := "contract:log"

	for i, score := range []int64{100, 200, 300} {
		n, err := s.ZTrimAddCount(ctx, key, 0, score, "e"+strconv.Itoa(i), time.Minute)
		if err != nil {
			t.Fatalf("ZTrimAddCount() error = %v", err)
		}
		if n != int64(i+1) {
			t.Fatalf("ZTrimAddCount() = %d, want %d", n, i+1)
		}
	}

	// The cutoff is inclusive: 100 and 200 go.
	n, err := s.ZTrimAddCount(ctx, key, 200, 400, "e3", time.Minute)
	if err != nil {
		t.Fatalf("ZTrimAddCount() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("ZTrimAddCount() after trim = %d, want 2", n)
	}
}

func contractTakeToken(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	key := "contract:bucket"

	for i := 0; i < 3; i++ {
		remaining, taken, err := s.TakeToken(ctx, key, 3)
		if err != nil {
			t.Fatalf("TakeToken() error = %v", err)
		}
		if !taken {
			t.Fatalf("take %d should succeed", i+1)
		}
		if remaining != int64(2-i) {
			t.Fatalf("remaining = %d, want %d", remaining, 2-i)
		}
	}
	remaining, taken, err := s.TakeToken(ctx, key, 3)
	if err != nil {
		t.Fatalf("TakeToken() error = %v", err)
	}
	if taken || remaining != 0 {
		t.Fatalf("TakeToken() on empty bucket = %d, %v; want 0, false", remaining, taken)
	}
}

func contractAdjustClamped(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	key := "contract:adjust"

	if _, ok, err := s.AdjustClamped(ctx, key, 5, 0, 10); err != nil || ok {
		t.Fatalf("AdjustClamped(missing) ok = %v, err = %v; want false", ok, err)
	}
	if ok, _ := s.Exists(ctx, key); ok {
		t.Fatal("AdjustClamped must not create missing keys")
	}

	if err := s.Set(ctx, key, 7, 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if v, ok, err := s.AdjustClamped(ctx, key, 5, 0, 10); err != nil || !ok || v != 10 {
		t.Fatalf("AdjustClamped(+5) = %d, %v, %v; want 10", v, ok, err)
	}
	if v, _, _ := s.AdjustClamped(ctx, key, -25, 0, math.MaxInt64); v != 0 {
		t.Fatalf("AdjustClamped(-25) = %d, want 0", v)
	}
	if v, _, _ := s.AdjustClamped(ctx, key, 3, 0, math.MaxInt64); v != 3 {
		t.Fatalf("AdjustClamped(+3) = %d, want 3", v)
	}
}

func contractConcurrentIncrement(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	key := "contract:concurrent"
	const workers = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Increment(ctx, key); err != nil {
				t.Errorf("Increment() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if n, _, _ := s.Get(ctx, key); n != workers {
		t.Fatalf("counter = %d, want %d", n, workers)
	}
}

func contractWrongType(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	key := "contract:typed"

	if _, err := s.AppendAndLen(ctx, key, "x"); err != nil {
		t.Fatalf("AppendAndLen() error = %v", err)
	}
	if _, err := s.Increment(ctx, key); err == nil {
		t.Fatal("Increment() on a list should fail")
	}
}

func TestMemoryStore_WrongTypeSentinel(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	if err := s.ZAdd(ctx, "k", 1, "m"); err != nil {
		t.Fatalf("ZAdd() error = %v", err)
	}
	if _, _, err := s.TakeToken(ctx, "k", 5); !errors.Is(err, ErrWrongType) {
		t.Errorf("TakeToken() error = %v, want ErrWrongType", err)
	}
}
