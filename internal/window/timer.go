// Package window runs a callback on a fixed period until stopped.
//
// Firings never overlap. When the clock jumps past several periods at
// once (a stalled process, a virtual clock) the missed firings run
// back-to-back until the schedule has caught up.
package window

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/SmitUplenchwar2687/checkpoint/internal/clock"
)

// Callback is invoked on every firing. The context is cancelled when the
// timer is stopped.
type Callback func(ctx context.Context) error

// Option configures a Timer.
type Option func(*Timer)

// WithLogger sets the logger used to report callback failures.
func WithLogger(logger log.Logger) Option {
	return func(t *Timer) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithObserver registers fn to be called after every firing with the
// callback's error, nil on success.
func WithObserver(fn func(err error)) Option {
	return func(t *Timer) { t.observe = fn }
}

// WithTimeout bounds each callback run. Zero means no bound.
func WithTimeout(d time.Duration) Option {
	return func(t *Timer) { t.timeout = d }
}

// WithName tags log lines with the timer's name.
func WithName(name string) Option {
	return func(t *Timer) { t.name = name }
}

// Timer fires a Callback every period.
type Timer struct {
	clock   clock.Clock
	period  time.Duration
	fn      Callback
	logger  log.Logger
	observe func(error)
	timeout time.Duration
	name    string

	mu   sync.Mutex
	next time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

// Schedule starts a Timer that first fires one period from now.
// It panics if period is not positive.
func Schedule(c clock.Clock, period time.Duration, fn Callback, opts ...Option) *Timer {
	if period <= 0 {
		panic(fmt.Sprintf("window: period must be positive, got %s", period))
	}
	if c == nil {
		c = clock.NewRealClock()
	}

	t := &Timer{
		clock:  c,
		period: period,
		fn:     fn,
		logger: log.NewNopLogger(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = log.With(t.logger, "component", "window_timer", "timer", t.name, "period", period)
	t.ctx, t.cancel = context.WithCancel(context.Background())

	t.next = c.Now().Add(period)
	// Registered before returning so a virtual clock advanced right after
	// Schedule still wakes the loop.
	wait := c.After(period)
	go t.loop(wait)
	return t
}

// Next returns the time of the next scheduled firing.
func (t *Timer) Next() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.next
}

// Period returns the firing period.
func (t *Timer) Period() time.Duration {
	return t.period
}

// Stop cancels future firings and waits for a running callback to return.
// It is safe to call more than once.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() {
		t.cancel()
		<-t.done
	})
}

func (t *Timer) loop(wait <-chan time.Time) {
	defer close(t.done)

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-wait:
		}
		if t.ctx.Err() != nil {
			return
		}

		t.fire()

		t.mu.Lock()
		t.next = t.next.Add(t.period)
		due := t.next
		t.mu.Unlock()

		wait = t.clock.After(due.Sub(t.clock.Now()))
	}
}

func (t *Timer) fire() {
	ctx := t.ctx
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	err := t.run(ctx)
	if err != nil {
		_ = level.Error(t.logger).Log("msg", "window callback failed", "err", err)
	}
	if t.observe != nil {
		t.observe(err)
	}
}

func (t *Timer) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("window callback panicked: %v", r)
		}
	}()
	return t.fn(ctx)
}
