package limiter

import (
	"strings"
	"time"

	"github.com/go-kit/log"

	"github.com/SmitUplenchwar2687/checkpoint/internal/clock"
)

// DefaultPrefix namespaces every store key written by a limiter.
const DefaultPrefix = "checkpoint"

type options struct {
	clock              clock.Clock
	logger             log.Logger
	prefix             string
	onMaintenance      func(Algorithm, error)
	maintenanceTimeout time.Duration
	manualMaintenance  bool
}

func defaultOptions() options {
	return options{
		clock:  clock.NewRealClock(),
		logger: log.NewNopLogger(),
		prefix: DefaultPrefix,
	}
}

// Option configures a limiter.
type Option func(*options)

// WithClock sets the time source for timestamps and maintenance timers.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithLogger sets the logger for maintenance reporting.
func WithLogger(logger log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithPrefix overrides the store key prefix.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = strings.TrimSuffix(prefix, ":")
	}
}

// WithMaintenanceHook registers fn to run after every timer-driven
// maintenance pass with the pass's error, nil on success.
func WithMaintenanceHook(fn func(Algorithm, error)) Option {
	return func(o *options) { o.onMaintenance = fn }
}

// WithMaintenanceTimeout bounds each timer-driven maintenance pass.
func WithMaintenanceTimeout(d time.Duration) Option {
	return func(o *options) { o.maintenanceTimeout = d }
}

// WithManualMaintenance disables the maintenance timer. The caller is
// then responsible for calling OnMaintenanceTick.
func WithManualMaintenance() Option {
	return func(o *options) { o.manualMaintenance = true }
}
