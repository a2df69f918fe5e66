package limiter

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/SmitUplenchwar2687/checkpoint/internal/storage"
)

// SlidingWindowLog keeps a sorted log of request timestamps per key. Each
// check trims entries older than WindowDuration, records the request and
// counts what is left, all in one store call.
//
// No timer runs; idle logs expire after one window.
type SlidingWindowLog struct {
	*base
	cfg SlidingWindowLogConfig
	seq atomic.Uint64
}

// NewSlidingWindowLog validates cfg. It starts no timer.
func NewSlidingWindowLog(cfg SlidingWindowLogConfig, store storage.Store, opts ...Option) (*SlidingWindowLog, error) {
	b, err := newBase(cfg, store, "swl", append(opts[:len(opts):len(opts)], WithManualMaintenance()))
	if err != nil {
		return nil, err
	}
	b.period = cfg.WindowDuration
	return &SlidingWindowLog{base: b, cfg: cfg}, nil
}

func (sw *SlidingWindowLog) CheckRequest(ctx context.Context, key string) (Decision, error) {
	if err := sw.checkOpen(); err != nil {
		return Decision{}, err
	}

	now := sw.opts.clock.Now()
	score := now.UnixMicro()
	cutoff := now.Add(-sw.cfg.WindowDuration).UnixMicro()
	member := fmt.Sprintf("%d-%d", now.UnixNano(), sw.seq.Add(1))

	sk := sw.storeKey(key)
	count, err := sw.store.ZTrimAddCount(ctx, sk, cutoff, score, member, sw.cfg.WindowDuration)
	if err != nil {
		return Decision{}, sw.storeErr("log", sk, err)
	}

	return Decision{
		Allowed:   count <= sw.cfg.RequestsPerWindow,
		Key:       key,
		Count:     count,
		Limit:     sw.cfg.RequestsPerWindow,
		Remaining: max(sw.cfg.RequestsPerWindow-count, 0),
		ResetAt:   now.Add(sw.cfg.WindowDuration),
	}, nil
}

// OnMaintenanceTick is a no-op; stale entries are trimmed on every check.
func (sw *SlidingWindowLog) OnMaintenanceTick(context.Context) error {
	return nil
}
