package storage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/checkpoint/internal/clock"
)

type valueKind int

const (
	kindCounter valueKind = iota + 1
	kindList
	kindZSet
)

const minScore = math.MinInt64

// MemoryStore is an in-process Store backed by a map.
// It uses a Clock for expiry checks so it can run under virtual time.
// Safe for concurrent use.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]*memItem
	clock clock.Clock

	closeOnce sync.Once
}

type memItem struct {
	kind      valueKind
	counter   int64
	list      []string
	zset      map[string]int64
	expiresAt time.Time // zero value means no expiration
}

// NewMemoryStore creates an empty store reading time from c.
// A nil clock means wall-clock time.
func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.NewRealClock()
	}
	return &MemoryStore{
		items: make(map[string]*memItem),
		clock: c,
	}
}

// live returns the item at key, dropping it first if it has expired.
// s.mu must be held.
func (s *MemoryStore) live(key string) *memItem {
	it, ok := s.items[key]
	if !ok {
		return nil
	}
	if !it.expiresAt.IsZero() && !s.clock.Now().Before(it.expiresAt) {
		delete(s.items, key)
		return nil
	}
	return it
}

// lookup returns the live item at key, creating one of kind k when absent.
// s.mu must be held.
func (s *MemoryStore) lookup(key string, k valueKind) (*memItem, error) {
	it := s.live(key)
	if it == nil {
		it = &memItem{kind: k}
		if k == kindZSet {
			it.zset = make(map[string]int64)
		}
		s.items[key] = it
		return it, nil
	}
	if it.kind != k {
		return nil, ErrWrongType
	}
	return it, nil
}

func (s *MemoryStore) begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	return nil
}

func (s *MemoryStore) Increment(ctx context.Context, key string) (int64, error) {
	return s.IncrementBy(ctx, key, 1)
}

func (s *MemoryStore) Decrement(ctx context.Context, key string) (int64, error) {
	return s.IncrementBy(ctx, key, -1)
}

func (s *MemoryStore) IncrementBy(ctx context.Context, key string, delta int64) (int64, error) {
	if err := s.begin(ctx); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	it, err := s.lookup(key, kindCounter)
	if err != nil {
		return 0, err
	}
	it.counter += delta
	return it.counter, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	it := &memItem{kind: kindCounter, counter: value}
	if ttl > 0 {
		it.expiresAt = s.clock.Now().Add(ttl)
	}
	s.items[key] = it
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key string) (int64, bool, error) {
	if err := s.begin(ctx); err != nil {
		return 0, false, err
	}
	defer s.mu.Unlock()

	it := s.live(key)
	if it == nil {
		return 0, false, nil
	}
	if it.kind != kindCounter {
		return 0, false, ErrWrongType
	}
	return it.counter, true, nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if err := s.begin(ctx); err != nil {
		return false, err
	}
	defer s.mu.Unlock()
	return s.live(key) != nil, nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

func (s *MemoryStore) AppendAndLen(ctx context.Context, key, value string) (int64, error) {
	if err := s.begin(ctx); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	it, err := s.lookup(key, kindList)
	if err != nil {
		return 0, err
	}
	it.list = append(it.list, value)
	return int64(len(it.list)), nil
}

func (s *MemoryStore) ZAdd(ctx context.Context, key string, score int64, member string) error {
	if err := s.begin(ctx); err != nil {
		return err
	}
	defer s.mu.Unlock()

	it, err := s.lookup(key, kindZSet)
	if err != nil {
		return err
	}
	it.zset[member] = score
	return nil
}

func (s *MemoryStore) ZRemoveRangeByScore(ctx context.Context, key string, max int64) (int64, error) {
	if err := s.begin(ctx); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	it := s.live(key)
	if it == nil {
		return 0, nil
	}
	if it.kind != kindZSet {
		return 0, ErrWrongType
	}
	return s.zremove(key, it, minScore, max), nil
}

// zremove drops members scored in [min, max] and deletes the key once the
// set is empty, as Redis does. s.mu must be held.
func (s *MemoryStore) zremove(key string, it *memItem, min, max int64) int64 {
	var removed int64
	for m, score := range it.zset {
		if score >= min && score <= max {
			delete(it.zset, m)
			removed++
		}
	}
	if len(it.zset) == 0 {
		delete(s.items, key)
	}
	return removed
}

func (s *MemoryStore) ZCountByScoreRange(ctx context.Context, key string, min, max int64) (int64, error) {
	if err := s.begin(ctx); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	it := s.live(key)
	if it == nil {
		return 0, nil
	}
	if it.kind != kindZSet {
		return 0, ErrWrongType
	}
	return zcount(it, min, max), nil
}

func zcount(it *memItem, min, max int64) int64 {
	var n int64
	for _, score := range it.zset {
		if score >= min && score <= max {
			n++
		}
	}
	return n
}

func (s *MemoryStore) ZTrimAddCount(ctx context.Context, key string, cutoff, score int64, member string, ttl time.Duration) (int64, error) {
	if err := s.begin(ctx); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	if it := s.live(key); it != nil {
		if it.kind != kindZSet {
			return 0, ErrWrongType
		}
		s.zremove(key, it, minScore, cutoff)
	}
	it, err := s.lookup(key, kindZSet)
	if err != nil {
		return 0, err
	}
	it.zset[member] = score
	if ttl > 0 {
		it.expiresAt = s.clock.Now().Add(ttl)
	}
	return zcount(it, 0, score), nil
}

func (s *MemoryStore) TakeToken(ctx context.Context, key string, capacity int64) (int64, bool, error) {
	if err := s.begin(ctx); err != nil {
		return 0, false, err
	}
	defer s.mu.Unlock()

	it := s.live(key)
	if it == nil {
		it = &memItem{kind: kindCounter, counter: capacity}
		s.items[key] = it
	}
	if it.kind != kindCounter {
		return 0, false, ErrWrongType
	}
	if it.counter <= 0 {
		return it.counter, false, nil
	}
	it.counter--
	return it.counter, true, nil
}

func (s *MemoryStore) AdjustClamped(ctx context.Context, key string, delta, lo, hi int64) (int64, bool, error) {
	if err := s.begin(ctx); err != nil {
		return 0, false, err
	}
	defer s.mu.Unlock()

	it := s.live(key)
	if it == nil {
		return 0, false, nil
	}
	if it.kind != kindCounter {
		return 0, false, ErrWrongType
	}
	it.counter = clamp(it.counter+delta, lo, hi)
	return it.counter, true, nil
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Cleanup removes all expired items. Call periodically for long-running sessions.
func (s *MemoryStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for key, it := range s.items {
		if !it.expiresAt.IsZero() && !now.Before(it.expiresAt) {
			delete(s.items, key)
		}
	}
}

// Len returns the number of items, including expired ones not yet cleaned up.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Close drops all items. It is idempotent.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.items = make(map[string]*memItem)
		s.mu.Unlock()
	})
	return nil
}
