package cli

import (
	"github.com/go-kit/log"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/SmitUplenchwar2687/checkpoint/internal/checkpoint"
	"github.com/SmitUplenchwar2687/checkpoint/internal/clock"
	"github.com/SmitUplenchwar2687/checkpoint/internal/config"
	"github.com/SmitUplenchwar2687/checkpoint/internal/limiter"
	"github.com/SmitUplenchwar2687/checkpoint/internal/metrics"
	"github.com/SmitUplenchwar2687/checkpoint/internal/storage"
)

// engine bundles what the commands need to build a Checkpoint.
type engine struct {
	cfg     config.Config
	store   storage.Store
	clock   clock.Clock
	logger  log.Logger
	reg     prometheus.Registerer
	hooks   []checkpoint.Hooks
	limOpts []limiter.Option
}

func (e engine) build() (*checkpoint.Checkpoint, error) {
	lc, err := e.cfg.Build()
	if err != nil {
		return nil, err
	}
	if e.logger == nil {
		e.logger = log.NewNopLogger()
	}

	opts := []limiter.Option{
		limiter.WithClock(e.clock),
		limiter.WithLogger(e.logger),
	}
	if e.cfg.Limiter.Prefix != "" {
		opts = append(opts, limiter.WithPrefix(e.cfg.Limiter.Prefix))
	}

	mws := []limiter.Middleware{limiter.LogMiddleware(e.logger)}
	if e.reg != nil {
		backend := e.cfg.Storage.Backend
		errCount, opCount, opLatency := metrics.KeyMetrics(e.reg, "checkpoint",
			metrics.FieldAlgorithm, metrics.FieldMethod, metrics.FieldResult, metrics.FieldStore)
		mws = append(mws, limiter.InstrumentMiddleware(backend, errCount, opCount, opLatency))

		// Timer-driven passes bypass the middleware chain.
		opts = append(opts, limiter.WithMaintenanceHook(func(alg limiter.Algorithm, err error) {
			c, result := opCount, "ok"
			if err != nil {
				c, result = errCount, "error"
			}
			c.With(
				metrics.FieldAlgorithm, string(alg),
				metrics.FieldMethod, "OnMaintenanceTick",
				metrics.FieldResult, result,
				metrics.FieldStore, backend,
			).Add(1)
		}))
	}

	l, err := limiter.New(lc, e.store, append(opts, e.limOpts...)...)
	if err != nil {
		return nil, err
	}
	l = limiter.Chain(l, mws...)

	cpOpts := []checkpoint.Option{
		checkpoint.WithClock(e.clock),
		checkpoint.WithLogger(e.logger),
	}
	for _, h := range e.hooks {
		cpOpts = append(cpOpts, checkpoint.WithHooks(h))
	}
	return checkpoint.New(l, cpOpts...), nil
}
