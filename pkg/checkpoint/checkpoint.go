// Package checkpoint exposes the admission engine for embedding in other
// programs.
//
// A typical setup builds a store, a limiter over it and a Checkpoint
// around the limiter:
//
//	store := checkpoint.NewMemoryStore(nil)
//	l, err := checkpoint.NewLimiter(checkpoint.TokenBucketConfig{
//		BucketCapacity: 10,
//		RefillRate:     10,
//		RefillInterval: time.Minute,
//		Field:          checkpoint.HeaderField("X-Api-Key"),
//		Scope:          checkpoint.EndpointScope,
//	}, store)
//	cp := checkpoint.New(l)
//	http.Handle("/", checkpoint.Admission(cp, false, nil)(upstream))
package checkpoint

import (
	"context"
	"net/http"
	"time"

	"github.com/go-kit/log"
	"github.com/redis/go-redis/v9"

	internalcheckpoint "github.com/SmitUplenchwar2687/checkpoint/internal/checkpoint"
	"github.com/SmitUplenchwar2687/checkpoint/internal/clock"
	"github.com/SmitUplenchwar2687/checkpoint/internal/keys"
	"github.com/SmitUplenchwar2687/checkpoint/internal/limiter"
	"github.com/SmitUplenchwar2687/checkpoint/internal/server"
	"github.com/SmitUplenchwar2687/checkpoint/internal/storage"
)

// Checkpoint wraps one limiter and turns its decisions into verdicts.
type Checkpoint = internalcheckpoint.Checkpoint

// Verdict is the outcome of one check.
type Verdict = internalcheckpoint.Verdict

// Rejection describes why a request was refused.
type Rejection = internalcheckpoint.Rejection

// Hooks are notification points around a check.
type Hooks = internalcheckpoint.Hooks

// Option configures a Checkpoint.
type Option = internalcheckpoint.Option

// New wraps l.
func New(l RateLimiter, opts ...Option) *Checkpoint {
	return internalcheckpoint.New(l, opts...)
}

// WithHooks adds a set of hooks.
func WithHooks(h Hooks) Option { return internalcheckpoint.WithHooks(h) }

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option { return internalcheckpoint.WithLogger(logger) }

// WithClock sets the clock used to compute Retry-After.
func WithClock(c Clock) Option { return internalcheckpoint.WithClock(c) }

// Admission returns net/http middleware running every request through cp.
func Admission(cp *Checkpoint, failOpen bool, logger log.Logger) func(http.Handler) http.Handler {
	return server.Admission(cp, failOpen, logger)
}

// Algorithm identifies a rate limiting algorithm.
type Algorithm = limiter.Algorithm

const (
	AlgorithmFixedWindowCounter = limiter.AlgorithmFixedWindowCounter
	AlgorithmSlidingWindowLog   = limiter.AlgorithmSlidingWindowLog
	AlgorithmLeakingBucket      = limiter.AlgorithmLeakingBucket
	AlgorithmTokenBucket        = limiter.AlgorithmTokenBucket
)

// RateLimiter is the contract every algorithm satisfies.
type RateLimiter = limiter.RateLimiter

// Decision is the raw outcome of a limiter check.
type Decision = limiter.Decision

// Algorithm configurations.
type (
	FixedWindowCounterConfig = limiter.FixedWindowCounterConfig
	SlidingWindowLogConfig   = limiter.SlidingWindowLogConfig
	LeakingBucketConfig      = limiter.LeakingBucketConfig
	TokenBucketConfig        = limiter.TokenBucketConfig
)

// LimiterConfig is any of the algorithm configurations.
type LimiterConfig = limiter.Config

// LimiterOption configures a limiter.
type LimiterOption = limiter.Option

// NewLimiter builds the limiter described by cfg over store.
func NewLimiter(cfg LimiterConfig, store Store, opts ...LimiterOption) (RateLimiter, error) {
	return limiter.New(cfg, store, opts...)
}

// WithLimiterClock sets the limiter's time source.
func WithLimiterClock(c Clock) LimiterOption { return limiter.WithClock(c) }

// WithLimiterLogger sets the limiter's logger.
func WithLimiterLogger(logger log.Logger) LimiterOption { return limiter.WithLogger(logger) }

// WithPrefix overrides the store key prefix.
func WithPrefix(prefix string) LimiterOption { return limiter.WithPrefix(prefix) }

// WithMaintenanceTimeout bounds each maintenance pass.
func WithMaintenanceTimeout(d time.Duration) LimiterOption {
	return limiter.WithMaintenanceTimeout(d)
}

// Errors returned by limiters.
var (
	ErrInvalidConfig = limiter.ErrInvalidConfig
	ErrClosed        = limiter.ErrClosed
)

// Field selects the client identity from a request.
type Field = keys.Field

// Scope partitions a client's quota.
type Scope = keys.Scope

const (
	NoScope       = keys.NoScope
	EndpointScope = keys.EndpointScope
	APIScope      = keys.APIScope
)

// HeaderField takes the identity from the named header.
func HeaderField(name string) Field { return keys.HeaderField(name) }

// QueryField takes the identity from the named query parameter.
func QueryField(name string) Field { return keys.QueryField(name) }

// NoField shares one quota among all clients.
func NoField() Field { return keys.NoField() }

// Request is the view of an incoming request used for key derivation.
type Request = keys.Request

// FromHTTP adapts an *http.Request.
func FromHTTP(r *http.Request) Request { return keys.FromHTTP(r) }

// Store is the counter store contract.
type Store = storage.Store

// MemoryStore is an in-process Store.
type MemoryStore = storage.MemoryStore

// RedisStore is a Store backed by Redis.
type RedisStore = storage.RedisStore

// RedisConfig configures a RedisStore.
type RedisConfig = storage.RedisConfig

// NewMemoryStore creates an in-process store. A nil clock means wall-clock time.
func NewMemoryStore(c Clock) *MemoryStore { return storage.NewMemoryStore(c) }

// NewRedisStore connects to Redis.
func NewRedisStore(ctx context.Context, cfg *RedisConfig) (*RedisStore, error) {
	return storage.NewRedisStore(ctx, cfg)
}

// NewRedisStoreFromClient wraps an existing go-redis client.
func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return storage.NewRedisStoreFromClient(client)
}

// Clock abstracts time.
type Clock = clock.Clock

// VirtualClock is a controllable clock for time-travel testing.
type VirtualClock = clock.VirtualClock

// NewVirtualClock creates a virtual clock starting at start.
func NewVirtualClock(start time.Time) *VirtualClock { return clock.NewVirtualClock(start) }
