package storage

import (
	"context"
	"errors"
	"time"
)

// ErrWrongType is returned when an operation is applied to a key holding
// a different kind of value, mirroring Redis' WRONGTYPE reply.
var ErrWrongType = errors.New("operation against a key holding the wrong kind of value")

// Store is the remote counter store the limiters run against.
// Every method is atomic with respect to other calls on the same key.
// Implementations must be safe for concurrent use.
type Store interface {
	// Increment adds one to the counter at key, creating it at 0 first.
	Increment(ctx context.Context, key string) (int64, error)
	// IncrementBy adds delta to the counter at key, creating it at 0 first.
	IncrementBy(ctx context.Context, key string, delta int64) (int64, error)
	// Decrement subtracts one from the counter at key, creating it at 0 first.
	Decrement(ctx context.Context, key string) (int64, error)
	// Set stores a counter value. A ttl of 0 means no expiry.
	Set(ctx context.Context, key string, value int64, ttl time.Duration) error
	// Get reads a counter. ok is false when the key does not exist.
	Get(ctx context.Context, key string) (value int64, ok bool, err error)
	// Exists reports whether key holds any value.
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// AppendAndLen appends value to the list at key and returns the new length.
	AppendAndLen(ctx context.Context, key, value string) (int64, error)

	// ZAdd inserts member with score into the sorted set at key.
	ZAdd(ctx context.Context, key string, score int64, member string) error
	// ZRemoveRangeByScore removes members scored at or below max.
	ZRemoveRangeByScore(ctx context.Context, key string, max int64) (int64, error)
	// ZCountByScoreRange counts members with min <= score <= max.
	ZCountByScoreRange(ctx context.Context, key string, min, max int64) (int64, error)

	// ZTrimAddCount removes members scored at or below cutoff, inserts
	// member at score, refreshes the key's ttl and returns the number of
	// members scored in [0, score]. All in one step.
	ZTrimAddCount(ctx context.Context, key string, cutoff, score int64, member string, ttl time.Duration) (int64, error)

	// TakeToken initializes the counter at key to capacity when absent and
	// then takes one unit if the counter is positive. It returns the
	// counter after the call and whether a unit was taken.
	TakeToken(ctx context.Context, key string, capacity int64) (remaining int64, taken bool, err error)

	// AdjustClamped adds delta to an existing counter and clamps the result
	// to [lo, hi]. Missing keys are left alone and reported with ok false.
	AdjustClamped(ctx context.Context, key string, delta, lo, hi int64) (value int64, ok bool, err error)

	// Close releases the store's resources. It is idempotent.
	Close() error
}
