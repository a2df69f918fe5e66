package limiter

import (
	"context"
	"math"

	"github.com/SmitUplenchwar2687/checkpoint/internal/storage"
)

// LeakingBucket raises a per-key level by one on every request, admitted
// or not, and rejects while the level is above BucketCapacity. Every
// DrainInterval the level of each tracked key drops by DrainRate, never
// below zero.
type LeakingBucket struct {
	*base
	cfg LeakingBucketConfig
}

// NewLeakingBucket validates cfg and starts the drain timer.
func NewLeakingBucket(cfg LeakingBucketConfig, store storage.Store, opts ...Option) (*LeakingBucket, error) {
	b, err := newBase(cfg, store, "lb", opts)
	if err != nil {
		return nil, err
	}
	lb := &LeakingBucket{base: b, cfg: cfg}
	b.schedule(cfg.DrainInterval, lb.OnMaintenanceTick)
	return lb, nil
}

func (lb *LeakingBucket) CheckRequest(ctx context.Context, key string) (Decision, error) {
	if err := lb.checkOpen(); err != nil {
		return Decision{}, err
	}

	now := lb.opts.clock.Now()
	sk := lb.storeKey(key)
	level, err := lb.store.Increment(ctx, sk)
	if err != nil {
		return Decision{}, lb.storeErr("increment", sk, err)
	}
	if lb.cfg.DrainRate > 0 {
		lb.tracked.Track(sk)
	}

	return Decision{
		Allowed:   level <= lb.cfg.BucketCapacity,
		Key:       key,
		Count:     level,
		Limit:     lb.cfg.BucketCapacity,
		Remaining: max(lb.cfg.BucketCapacity-level, 0),
		ResetAt:   lb.resetAt(now),
	}, nil
}

// OnMaintenanceTick drains every tracked bucket. Empty buckets stop being
// tracked. With a zero DrainRate nothing is tracked and the tick is a no-op.
func (lb *LeakingBucket) OnMaintenanceTick(ctx context.Context) error {
	if lb.cfg.DrainRate == 0 {
		return nil
	}
	return lb.sweep(ctx, "drain", func(ctx context.Context, sk string) (bool, error) {
		level, ok, err := lb.store.AdjustClamped(ctx, sk, -lb.cfg.DrainRate, 0, math.MaxInt64)
		if err != nil {
			return false, err
		}
		return !ok || level == 0, nil
	})
}
