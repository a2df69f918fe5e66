package limiter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/SmitUplenchwar2687/checkpoint/internal/keys"
	"github.com/SmitUplenchwar2687/checkpoint/internal/storage"
	"github.com/SmitUplenchwar2687/checkpoint/internal/window"
)

// base carries what every algorithm shares: the store, key namespacing,
// the tracked key set and the maintenance timer.
type base struct {
	algorithm Algorithm
	selector  keys.Selector
	store     storage.Store
	opts      options
	logger    log.Logger
	namespace string

	tracked *tracker
	timer   *window.Timer
	period  time.Duration

	closed    atomic.Bool
	closeOnce sync.Once
}

func newBase(cfg Config, store storage.Store, namespace string, opts []Option) (*base, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	b := &base{
		algorithm: cfg.Algorithm(),
		selector:  cfg.Selector(),
		store:     store,
		opts:      o,
		namespace: o.prefix + ":" + namespace + ":",
		tracked:   newTracker(),
	}
	b.logger = log.With(o.logger, "component", "limiter", "algorithm", string(b.algorithm))
	return b, nil
}

func (b *base) Algorithm() Algorithm    { return b.algorithm }
func (b *base) Selector() keys.Selector { return b.selector }

func (b *base) storeKey(key string) string {
	return b.namespace + key
}

// schedule starts the maintenance timer unless maintenance is manual.
func (b *base) schedule(period time.Duration, tick func(context.Context) error) {
	b.period = period
	if b.opts.manualMaintenance {
		return
	}
	b.timer = window.Schedule(b.opts.clock, period, tick,
		window.WithLogger(b.logger),
		window.WithName(string(b.algorithm)),
		window.WithTimeout(b.opts.maintenanceTimeout),
		window.WithObserver(func(err error) {
			if b.opts.onMaintenance != nil {
				b.opts.onMaintenance(b.algorithm, err)
			}
		}),
	)
}

// resetAt is the next maintenance firing.
func (b *base) resetAt(now time.Time) time.Time {
	if b.timer != nil {
		return b.timer.Next()
	}
	return now.Add(b.period)
}

func (b *base) checkOpen() error {
	if b.closed.Load() {
		return ErrClosed
	}
	return nil
}

func (b *base) storeErr(op, key string, err error) error {
	return &StoreError{Op: op, Key: key, Err: err}
}

// sweep applies step to every tracked key. A key is forgotten when step
// reports it settled and nobody touched it meanwhile. Failures are logged
// per key and joined; they never stop the pass.
func (b *base) sweep(ctx context.Context, op string, step func(ctx context.Context, key string) (settled bool, err error)) error {
	var errs []error
	for key, gen := range b.tracked.Snapshot() {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}

		settled, err := step(ctx, key)
		if err != nil {
			_ = level.Warn(b.logger).Log("msg", "maintenance failed for key", "op", op, "key", key, "err", err)
			errs = append(errs, b.storeErr(op, key, err))
			continue
		}
		if settled {
			b.tracked.Forget(key, gen)
		}
	}
	return errors.Join(errs...)
}

// Tracked returns the number of keys awaiting maintenance.
func (b *base) Tracked() int {
	return b.tracked.Len()
}

func (b *base) Close() error {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		if b.timer != nil {
			b.timer.Stop()
		}
	})
	return nil
}
