package limiter

import (
	"context"
	"time"

	kitmetrics "github.com/go-kit/kit/metrics"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/SmitUplenchwar2687/checkpoint/internal/keys"
	"github.com/SmitUplenchwar2687/checkpoint/internal/metrics"
)

// Middleware is a chainable behaviour modifier for RateLimiter.
type Middleware func(RateLimiter) RateLimiter

// Chain applies mws so the first one is the outermost.
func Chain(next RateLimiter, mws ...Middleware) RateLimiter {
	for i := len(mws) - 1; i >= 0; i-- {
		next = mws[i](next)
	}
	return next
}

type logLimiter struct {
	logger log.Logger
	next   RateLimiter
}

// LogMiddleware given a Logger wraps the next RateLimiter with logging
// capabilities. Checks are logged at debug level, failures at error level.
func LogMiddleware(logger log.Logger) Middleware {
	return func(next RateLimiter) RateLimiter {
		return &logLimiter{
			logger: log.With(logger, "component", "limiter", "algorithm", string(next.Algorithm())),
			next:   next,
		}
	}
}

func (l *logLimiter) CheckRequest(ctx context.Context, key string) (d Decision, err error) {
	defer func(begin time.Time) {
		ps := []interface{}{
			"duration_ns", time.Since(begin).Nanoseconds(),
			"method", "CheckRequest",
			"key", key,
		}
		if err != nil {
			ps = append(ps, "err", err)
			_ = level.Error(l.logger).Log(ps...)
			return
		}
		ps = append(ps, "allowed", d.Allowed, "count", d.Count, "limit", d.Limit)
		_ = level.Debug(l.logger).Log(ps...)
	}(time.Now())

	return l.next.CheckRequest(ctx, key)
}

func (l *logLimiter) OnMaintenanceTick(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		ps := []interface{}{
			"duration_ns", time.Since(begin).Nanoseconds(),
			"method", "OnMaintenanceTick",
		}
		if err != nil {
			ps = append(ps, "err", err)
			_ = level.Error(l.logger).Log(ps...)
			return
		}
		_ = level.Debug(l.logger).Log(ps...)
	}(time.Now())

	return l.next.OnMaintenanceTick(ctx)
}

func (l *logLimiter) Algorithm() Algorithm    { return l.next.Algorithm() }
func (l *logLimiter) Selector() keys.Selector { return l.next.Selector() }
func (l *logLimiter) Close() error            { return l.next.Close() }

type instrumentLimiter struct {
	errCount  kitmetrics.Counter
	next      RateLimiter
	opCount   kitmetrics.Counter
	opLatency *prometheus.HistogramVec
	store     string
}

// InstrumentMiddleware observes check outcomes and latencies. The metrics
// are expected to carry the algorithm, method, result and store labels.
func InstrumentMiddleware(
	store string,
	errCount kitmetrics.Counter,
	opCount kitmetrics.Counter,
	opLatency *prometheus.HistogramVec,
) Middleware {
	return func(next RateLimiter) RateLimiter {
		return &instrumentLimiter{
			errCount:  errCount,
			next:      next,
			opCount:   opCount,
			opLatency: opLatency,
			store:     store,
		}
	}
}

func (i *instrumentLimiter) CheckRequest(ctx context.Context, key string) (d Decision, err error) {
	defer func(begin time.Time) {
		result := "rejected"
		if d.Allowed {
			result = "admitted"
		}
		i.track("CheckRequest", result, begin, err)
	}(time.Now())

	return i.next.CheckRequest(ctx, key)
}

func (i *instrumentLimiter) OnMaintenanceTick(ctx context.Context) (err error) {
	defer func(begin time.Time) {
		i.track("OnMaintenanceTick", "ok", begin, err)
	}(time.Now())

	return i.next.OnMaintenanceTick(ctx)
}

func (i *instrumentLimiter) Algorithm() Algorithm    { return i.next.Algorithm() }
func (i *instrumentLimiter) Selector() keys.Selector { return i.next.Selector() }
func (i *instrumentLimiter) Close() error            { return i.next.Close() }

func (i *instrumentLimiter) track(method, result string, begin time.Time, err error) {
	algorithm := string(i.next.Algorithm())
	if err != nil {
		i.errCount.With(
			metrics.FieldAlgorithm, algorithm,
			metrics.FieldMethod, method,
			metrics.FieldResult, "error",
			metrics.FieldStore, i.store,
		).Add(1)

		return
	}

	i.opCount.With(
		metrics.FieldAlgorithm, algorithm,
		metrics.FieldMethod, method,
		metrics.FieldResult, result,
		metrics.FieldStore, i.store,
	).Add(1)

	i.opLatency.With(prometheus.Labels{
		metrics.FieldAlgorithm: algorithm,
		metrics.FieldMethod:    method,
		metrics.FieldResult:    result,
		metrics.FieldStore:     i.store,
	}).Observe(time.Since(begin).Seconds())
}
