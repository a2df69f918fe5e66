package limiter

import (
	"context"
	"strconv"

	"github.com/SmitUplenchwar2687/checkpoint/internal/storage"
)

// FixedWindowCounter logs each request's timestamp in a per-key list and
// rejects once the list grows past RequestsPerWindow. Every
// WindowDuration the maintenance pass deletes all tracked lists.
//
// Windows reset on a wall-clock boundary, so up to twice the limit can
// get through around a reset.
type FixedWindowCounter struct {
	*base
	cfg FixedWindowCounterConfig
}

// NewFixedWindowCounter validates cfg and starts the window reset timer.
func NewFixedWindowCounter(cfg FixedWindowCounterConfig, store storage.Store, opts ...Option) (*FixedWindowCounter, error) {
	b, err := newBase(cfg, store, "fwc", opts)
	if err != nil {
		return nil, err
	}
	fw := &FixedWindowCounter{base: b, cfg: cfg}
	b.schedule(cfg.WindowDuration, fw.OnMaintenanceTick)
	return fw, nil
}

func (fw *FixedWindowCounter) CheckRequest(ctx context.Context, key string) (Decision, error) {
	if err := fw.checkOpen(); err != nil {
		return Decision{}, err
	}

	now := fw.opts.clock.Now()
	sk := fw.storeKey(key)
	count, err := fw.store.AppendAndLen(ctx, sk, strconv.FormatInt(now.UnixNano(), 10))
	if err != nil {
		return Decision{}, fw.storeErr("append", sk, err)
	}
	fw.tracked.Track(sk)

	return Decision{
		Allowed:   count <= fw.cfg.RequestsPerWindow,
		Key:       key,
		Count:     count,
		Limit:     fw.cfg.RequestsPerWindow,
		Remaining: max(fw.cfg.RequestsPerWindow-count, 0),
		ResetAt:   fw.resetAt(now),
	}, nil
}

// OnMaintenanceTick deletes every tracked list.
func (fw *FixedWindowCounter) OnMaintenanceTick(ctx context.Context) error {
	return fw.sweep(ctx, "reset", func(ctx context.Context, sk string) (bool, error) {
		if err := fw.store.Delete(ctx, sk); err != nil {
			return false, err
		}
		return true, nil
	})
}
