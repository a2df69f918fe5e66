package limiter

import (
	"context"

	"github.com/SmitUplenchwar2687/checkpoint/internal/storage"
)

// TokenBucket gives each key BucketCapacity tokens on first sight and
// takes one per admitted request. A request that finds the bucket empty
// is rejected. Every RefillInterval each tracked bucket gains RefillRate
// tokens, capped at BucketCapacity.
type TokenBucket struct {
	*base
	cfg TokenBucketConfig
}

// NewTokenBucket validates cfg and starts the refill timer.
func NewTokenBucket(cfg TokenBucketConfig, store storage.Store, opts ...Option) (*TokenBucket, error) {
	b, err := newBase(cfg, store, "tb", opts)
	if err != nil {
		return nil, err
	}
	tb := &TokenBucket{base: b, cfg: cfg}
	b.schedule(cfg.RefillInterval, tb.OnMaintenanceTick)
	return tb, nil
}

func (tb *TokenBucket) CheckRequest(ctx context.Context, key string) (Decision, error) {
	if err := tb.checkOpen(); err != nil {
		return Decision{}, err
	}

	now := tb.opts.clock.Now()
	sk := tb.storeKey(key)
	tokens, taken, err := tb.store.TakeToken(ctx, sk, tb.cfg.BucketCapacity)
	if err != nil {
		return Decision{}, tb.storeErr("take", sk, err)
	}
	if tb.cfg.RefillRate > 0 {
		tb.tracked.Track(sk)
	}

	return Decision{
		Allowed:   taken,
		Key:       key,
		Count:     tokens,
		Limit:     tb.cfg.BucketCapacity,
		Remaining: max(tokens, 0),
		ResetAt:   tb.resetAt(now),
	}, nil
}

// OnMaintenanceTick refills every tracked bucket. Full buckets stop being
// tracked. With a zero RefillRate nothing is tracked and the tick is a no-op.
func (tb *TokenBucket) OnMaintenanceTick(ctx context.Context) error {
	if tb.cfg.RefillRate == 0 {
		return nil
	}
	return tb.sweep(ctx, "refill", func(ctx context.Context, sk string) (bool, error) {
		tokens, ok, err := tb.store.AdjustClamped(ctx, sk, tb.cfg.RefillRate, 0, tb.cfg.BucketCapacity)
		if err != nil {
			return false, err
		}
		return !ok || tokens >= tb.cfg.BucketCapacity, nil
	})
}
