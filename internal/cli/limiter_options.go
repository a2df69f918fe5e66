package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/checkpoint/internal/config"
	"github.com/SmitUplenchwar2687/checkpoint/internal/limiter"
)

type limiterOptions struct {
	algorithm string
	limit     int64
	interval  time.Duration
	rate      int64
	field     string
	scope     string
	prefix    string
}

func (o *limiterOptions) addFlags(cmd *cobra.Command) {
	def := config.Default().Limiter
	cmd.Flags().StringVar(&o.algorithm, "algorithm", string(def.Algorithm), "algorithm (fixed_window_counter, sliding_window_log, leaking_bucket, token_bucket)")
	cmd.Flags().Int64Var(&o.limit, "limit", def.Limit, "requests per window, or bucket capacity")
	cmd.Flags().DurationVar(&o.interval, "interval", def.Interval, "window length, or drain/refill interval")
	cmd.Flags().Int64Var(&o.rate, "rate", def.Rate, "units drained or refilled per interval (bucket algorithms)")
	cmd.Flags().StringVar(&o.field, "field", def.Field, "identity field (header:<Name>, query:<name>, none)")
	cmd.Flags().StringVar(&o.scope, "scope", def.Scope, "scope (endpoint, api, none)")
	cmd.Flags().StringVar(&o.prefix, "prefix", def.Prefix, "store key prefix")
}

// apply overrides cfg with the flags that were set explicitly.
func (o *limiterOptions) apply(cmd *cobra.Command, cfg *config.LimiterConfig) {
	if cmd.Flags().Changed("algorithm") {
		cfg.Algorithm = limiter.Algorithm(o.algorithm)
	}
	if cmd.Flags().Changed("limit") {
		cfg.Limit = o.limit
	}
	if cmd.Flags().Changed("interval") {
		cfg.Interval = o.interval
	}
	if cmd.Flags().Changed("rate") {
		cfg.Rate = o.rate
	}
	if cmd.Flags().Changed("field") {
		cfg.Field = o.field
	}
	if cmd.Flags().Changed("scope") {
		cfg.Scope = o.scope
	}
	if cmd.Flags().Changed("prefix") {
		cfg.Prefix = o.prefix
	}
}
