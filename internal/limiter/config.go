package limiter

import (
	"fmt"
	"time"

	"github.com/SmitUplenchwar2687/checkpoint/internal/keys"
)

// Config is an immutable algorithm configuration.
type Config interface {
	Algorithm() Algorithm
	Selector() keys.Selector
	Validate() error
}

// FixedWindowCounterConfig admits RequestsPerWindow requests per key and
// clears every counter each WindowDuration.
type FixedWindowCounterConfig struct {
	RequestsPerWindow int64
	WindowDuration    time.Duration
	Field             keys.Field
	Scope             keys.Scope
}

func (FixedWindowCounterConfig) Algorithm() Algorithm { return AlgorithmFixedWindowCounter }

func (c FixedWindowCounterConfig) Selector() keys.Selector {
	return keys.Selector{Field: c.Field, Scope: c.Scope}
}

func (c FixedWindowCounterConfig) Validate() error {
	if err := nonNegative("requests_per_window", c.RequestsPerWindow); err != nil {
		return err
	}
	return positive("window_duration", c.WindowDuration)
}

// SlidingWindowLogConfig admits at most RequestsPerWindow requests per key
// in any trailing WindowDuration.
type SlidingWindowLogConfig struct {
	RequestsPerWindow int64
	WindowDuration    time.Duration
	Field             keys.Field
	Scope             keys.Scope
}

func (SlidingWindowLogConfig) Algorithm() Algorithm { return AlgorithmSlidingWindowLog }

func (c SlidingWindowLogConfig) Selector() keys.Selector {
	return keys.Selector{Field: c.Field, Scope: c.Scope}
}

func (c SlidingWindowLogConfig) Validate() error {
	if err := nonNegative("requests_per_window", c.RequestsPerWindow); err != nil {
		return err
	}
	return positive("window_duration", c.WindowDuration)
}

// LeakingBucketConfig fills a bucket by one per request and drains
// DrainRate units every DrainInterval. Requests that overflow
// BucketCapacity are rejected.
type LeakingBucketConfig struct {
	BucketCapacity int64
	DrainRate      int64
	DrainInterval  time.Duration
	Field          keys.Field
	Scope          keys.Scope
}

func (LeakingBucketConfig) Algorithm() Algorithm { return AlgorithmLeakingBucket }

func (c LeakingBucketConfig) Selector() keys.Selector {
	return keys.Selector{Field: c.Field, Scope: c.Scope}
}

func (c LeakingBucketConfig) Validate() error {
	if err := nonNegative("bucket_capacity", c.BucketCapacity); err != nil {
		return err
	}
	if err := nonNegative("drain_rate", c.DrainRate); err != nil {
		return err
	}
	return positive("drain_interval", c.DrainInterval)
}

// TokenBucketConfig starts each key with BucketCapacity tokens, takes one
// per admitted request and adds RefillRate tokens every RefillInterval.
type TokenBucketConfig struct {
	BucketCapacity int64
	RefillRate     int64
	RefillInterval time.Duration
	Field          keys.Field
	Scope          keys.Scope
}

func (TokenBucketConfig) Algorithm() Algorithm { return AlgorithmTokenBucket }

func (c TokenBucketConfig) Selector() keys.Selector {
	return keys.Selector{Field: c.Field, Scope: c.Scope}
}

func (c TokenBucketConfig) Validate() error {
	if err := nonNegative("bucket_capacity", c.BucketCapacity); err != nil {
		return err
	}
	if err := nonNegative("refill_rate", c.RefillRate); err != nil {
		return err
	}
	return positive("refill_interval", c.RefillInterval)
}

func nonNegative(name string, v int64) error {
	if v < 0 {
		return fmt.Errorf("%w: %s must be non-negative, got %d", ErrInvalidConfig, name, v)
	}
	return nil
}

func positive(name string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %s", ErrInvalidConfig, name, d)
	}
	return nil
}
