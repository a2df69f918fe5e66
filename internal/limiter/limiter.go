// Package limiter implements the four admission algorithms over a shared
// counter store: fixed window counter, sliding window log, leaking bucket
// and token bucket.
//
// Every limiter is constructed from an immutable Config and a
// storage.Store. The windowed algorithms start a maintenance timer at
// construction and stop it on Close.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SmitUplenchwar2687/checkpoint/internal/keys"
	"github.com/SmitUplenchwar2687/checkpoint/internal/storage"
)

// Algorithm identifies a rate limiting algorithm.
type Algorithm string

const (
	AlgorithmFixedWindowCounter Algorithm = "fixed_window_counter"
	AlgorithmSlidingWindowLog   Algorithm = "sliding_window_log"
	AlgorithmLeakingBucket      Algorithm = "leaking_bucket"
	AlgorithmTokenBucket        Algorithm = "token_bucket"
)

// Algorithms lists every supported algorithm.
var Algorithms = []Algorithm{
	AlgorithmFixedWindowCounter,
	AlgorithmSlidingWindowLog,
	AlgorithmLeakingBucket,
	AlgorithmTokenBucket,
}

// ParseAlgorithm maps a textual name to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	for _, a := range Algorithms {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: unknown algorithm %q", ErrInvalidConfig, s)
}

var (
	// ErrInvalidConfig is returned when an algorithm configuration is invalid.
	ErrInvalidConfig = errors.New("invalid limiter configuration")

	// ErrClosed is returned by CheckRequest after Close.
	ErrClosed = errors.New("limiter is closed")
)

// RateLimiter decides whether a request identified by key is admitted.
type RateLimiter interface {
	// CheckRequest records the request against key and reports the outcome.
	// A non-nil error means the store could not be consulted; the decision
	// is then meaningless.
	CheckRequest(ctx context.Context, key string) (Decision, error)

	// OnMaintenanceTick runs one maintenance pass over the tracked keys.
	// It is what the maintenance timer fires; algorithms without periodic
	// maintenance return nil.
	OnMaintenanceTick(ctx context.Context) error

	// Algorithm returns the algorithm this limiter runs.
	Algorithm() Algorithm

	// Selector returns how request keys are derived for this limiter.
	Selector() keys.Selector

	// Close stops the maintenance timer. It does not close the store.
	Close() error
}

// Decision captures the result of a rate limit check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Key       string    `json:"key"`
	Count     int64     `json:"count"`     // Store value after this check
	Limit     int64     `json:"limit"`     // Requests per window or bucket capacity
	Remaining int64     `json:"remaining"` // Requests or tokens left before rejection
	ResetAt   time.Time `json:"reset_at"`  // Next window reset, drain or refill
}

// StoreError reports a failed store operation. The underlying error stays
// reachable through errors.Is and errors.As.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsStoreError reports whether err wraps a StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// New builds the limiter described by cfg.
func New(cfg Config, store storage.Store, opts ...Option) (RateLimiter, error) {
	var (
		l   RateLimiter
		err error
	)
	switch c := cfg.(type) {
	case FixedWindowCounterConfig:
		l, err = unwrap(NewFixedWindowCounter(c, store, opts...))
	case SlidingWindowLogConfig:
		l, err = unwrap(NewSlidingWindowLog(c, store, opts...))
	case LeakingBucketConfig:
		l, err = unwrap(NewLeakingBucket(c, store, opts...))
	case TokenBucketConfig:
		l, err = unwrap(NewTokenBucket(c, store, opts...))
	case nil:
		err = fmt.Errorf("%w: config is required", ErrInvalidConfig)
	default:
		err = fmt.Errorf("%w: unsupported config %T", ErrInvalidConfig, cfg)
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

func unwrap[L RateLimiter](l L, err error) (RateLimiter, error) {
	if err != nil {
		return nil, err
	}
	return l, nil
}
