package limiter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/checkpoint/internal/clock"
	"github.com/SmitUplenchwar2687/checkpoint/internal/storage"
)

var (
	epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ctx   = context.Background()
)

var errUnavailable = errors.New("store unavailable")

// flakyStore fails every operation on keys containing a marked substring.
type flakyStore struct {
	storage.Store

	mu   sync.Mutex
	bad  []string
	down bool
}

func (f *flakyStore) fail(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return true
	}
	for _, b := range f.bad {
		if strings.Contains(key, b) {
			return true
		}
	}
	return false
}

func (f *flakyStore) setDown(down bool) {
	f.mu.Lock()
	f.down = down
	f.mu.Unlock()
}

func (f *flakyStore) Delete(ctx context.Context, key string) error {
	if f.fail(key) {
		return errUnavailable
	}
	return f.Store.Delete(ctx, key)
}

func (f *flakyStore) AppendAndLen(ctx context.Context, key, value string) (int64, error) {
	if f.fail(key) {
		return 0, errUnavailable
	}
	return f.Store.AppendAndLen(ctx, key, value)
}

func (f *flakyStore) Increment(ctx context.Context, key string) (int64, error) {
	if f.fail(key) {
		return 0, errUnavailable
	}
	return f.Store.Increment(ctx, key)
}

func (f *flakyStore) TakeToken(ctx context.Context, key string, capacity int64) (int64, bool, error) {
	if f.fail(key) {
		return 0, false, errUnavailable
	}
	return f.Store.TakeToken(ctx, key, capacity)
}

func (f *flakyStore) ZTrimAddCount(ctx context.Context, key string, cutoff, score int64, member string, ttl time.Duration) (int64, error) {
	if f.fail(key) {
		return 0, errUnavailable
	}
	return f.Store.ZTrimAddCount(ctx, key, cutoff, score, member, ttl)
}

func (f *flakyStore) AdjustClamped(ctx context.Context, key string, delta, lo, hi int64) (int64, bool, error) {
	if f.fail(key) {
		return 0, false, errUnavailable
	}
	return f.Store.AdjustClamped(ctx, key, delta, lo, hi)
}

func newTestStore(vc *clock.VirtualClock) *storage.MemoryStore {
	return storage.NewMemoryStore(vc)
}

func mustCheck(t *testing.T, l RateLimiter, key string) Decision {
	t.Helper()
	d, err := l.CheckRequest(ctx, key)
	if err != nil {
		t.Fatalf("CheckRequest(%q) error = %v", key, err)
	}
	return d
}

func mustTick(t *testing.T, l RateLimiter) {
	t.Helper()
	if err := l.OnMaintenanceTick(ctx); err != nil {
		t.Fatalf("OnMaintenanceTick() error = %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}
