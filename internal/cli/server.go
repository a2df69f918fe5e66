package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/checkpoint/internal/checkpoint"
	"github.com/SmitUplenchwar2687/checkpoint/internal/clock"
	"github.com/SmitUplenchwar2687/checkpoint/internal/recorder"
	"github.com/SmitUplenchwar2687/checkpoint/internal/server"
)

func newServerCmd(ro *rootOptions) *cobra.Command {
	var (
		addr       string
		failOpen   bool
		recordFile string
		lo         limiterOptions
		so         storageOptions
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Start the Checkpoint HTTP server",
		Long: `Starts an HTTP server that runs every request through admission control.

Endpoints:
  GET /health     Health check
  GET /metrics    Prometheus metrics
  WS  /ws         WebSocket stream of admission events
  *   /*          Admission-controlled; admitted requests echo their decision`,
		Example: `  checkpoint server
  checkpoint server --addr :9090 --algorithm sliding_window_log --limit 100 --interval 1m
  checkpoint server --algorithm leaking_bucket --limit 20 --rate 5 --interval 1s --field query:user
  checkpoint server --storage redis --redis-host localhost:6379 --fail-open
  checkpoint server --config checkpoint.yaml --record traffic.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ro.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("fail-open") {
				cfg.Server.FailOpen = failOpen
			}
			lo.apply(cmd, &cfg.Limiter)
			if err := so.apply(cmd, &cfg.Storage); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := ro.baseLogger()
			clk := clock.NewRealClock()

			// Graceful shutdown on SIGINT/SIGTERM.
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, stopStore, err := openStore(ctx, cfg.Storage, clk, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			defer stopStore()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			hub := server.NewHub(logger)
			var rec *recorder.Recorder
			if recordFile != "" {
				rec = recorder.New(nil)
			}
			events := recorder.Hooks(clk, cfg.Limiter.Algorithm, func(ev recorder.AdmissionEvent) {
				hub.Broadcast(ev)
				if rec != nil {
					_ = rec.Record(ev)
				}
			})

			cp, err := engine{
				cfg:    cfg,
				store:  store,
				clock:  clk,
				logger: logger,
				reg:    reg,
				hooks:  []checkpoint.Hooks{events},
			}.build()
			if err != nil {
				return err
			}
			defer cp.Close()

			srv := server.New(cfg.Server.Addr, cp,
				server.WithClock(clk),
				server.WithLogger(logger),
				server.WithHub(hub),
				server.WithMetrics(reg),
				server.WithFailOpen(cfg.Server.FailOpen),
			)

			_ = level.Info(logger).Log(
				"msg", "starting checkpoint",
				"algorithm", cfg.Limiter.Algorithm,
				"limit", cfg.Limiter.Limit,
				"interval", cfg.Limiter.Interval,
				"storage", cfg.Storage.Backend,
			)

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
				_ = level.Info(logger).Log("msg", "shutting down")
				if rec != nil {
					_ = level.Info(logger).Log("msg", "exporting records", "count", rec.Len(), "file", recordFile)
					if err := rec.ExportFile(recordFile); err != nil {
						_ = level.Error(logger).Log("msg", "exporting records failed", "err", err)
					}
				}
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	cmd.Flags().BoolVar(&failOpen, "fail-open", false, "admit requests when the store is unreachable")
	cmd.Flags().StringVar(&recordFile, "record", "", "record admission events to a JSON file (exported on shutdown)")
	lo.addFlags(cmd)
	so.addFlags(cmd)

	return cmd
}
