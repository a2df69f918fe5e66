package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/checkpoint/internal/checkpoint"
	"github.com/SmitUplenchwar2687/checkpoint/internal/clock"
	"github.com/SmitUplenchwar2687/checkpoint/internal/config"
	"github.com/SmitUplenchwar2687/checkpoint/internal/keys"
	"github.com/SmitUplenchwar2687/checkpoint/internal/limiter"
	"github.com/SmitUplenchwar2687/checkpoint/internal/storage"
)

// tickWait bounds how long a fast-forward waits for maintenance to run.
const tickWait = 5 * time.Second

func newTestCmd(ro *rootOptions) *cobra.Command {
	var (
		requests    int
		identities  []string
		path        string
		fastForward time.Duration
		outputJSON  bool
		lo          limiterOptions
	)

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run admission scenarios with time travel",
		Long: `Runs admission checks against a virtual clock and an in-memory store,
so limiter behaviour over hours or days can be checked in seconds.

The test sends a batch of requests, optionally fast-forwards time and
waits for the maintenance timer to catch up, then sends another batch.`,
		Example: `  checkpoint test --requests 20 --limit 10 --interval 1m
  checkpoint test --algorithm sliding_window_log --limit 5 --interval 30s --fast-forward 1m
  checkpoint test --algorithm leaking_bucket --limit 5 --rate 1 --interval 1s --fast-forward 3s
  checkpoint test --keys user1,user2 --requests 15 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ro.loadConfig()
			if err != nil {
				return err
			}
			lo.apply(cmd, &cfg.Limiter)
			cfg.Storage.Backend = config.BackendMemory
			if err := cfg.Validate(); err != nil {
				return err
			}
			if len(identities) == 0 {
				identities = []string{"test-user"}
			}

			sc, err := newScenario(cfg, ro, fastForward)
			if err != nil {
				return err
			}
			defer sc.cp.Close()

			result, err := runTest(cmd.Context(), sc, identities, path, requests, fastForward)
			if err != nil {
				return err
			}

			if outputJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			printTestResult(cmd.OutOrStdout(), &result)
			return nil
		},
	}

	cmd.Flags().IntVar(&requests, "requests", 15, "number of requests to send per identity per batch")
	cmd.Flags().StringSliceVar(&identities, "keys", nil, "comma-separated client identities to test")
	cmd.Flags().StringVar(&path, "path", "/", "request path")
	cmd.Flags().DurationVar(&fastForward, "fast-forward", 0, "time to fast-forward between batches")
	cmd.Flags().BoolVar(&outputJSON, "json", false, "output results as JSON")
	lo.addFlags(cmd)

	return cmd
}

// scenario is a Checkpoint running on virtual time.
type scenario struct {
	vc       *clock.VirtualClock
	cp       *checkpoint.Checkpoint
	field    keys.Field
	interval time.Duration
	// ticks receives one value per timer-driven maintenance pass.
	ticks chan error
	// timed reports whether maintenance is timer driven.
	timed bool
}

func newScenario(cfg config.Config, ro *rootOptions, fastForward time.Duration) (*scenario, error) {
	field, err := keys.ParseField(cfg.Limiter.Field)
	if err != nil {
		return nil, err
	}

	vc := clock.NewVirtualClock(time.Now().UTC().Truncate(time.Second))
	sc := &scenario{
		vc:       vc,
		field:    field,
		interval: cfg.Limiter.Interval,
		timed:    cfg.Limiter.Algorithm != limiter.AlgorithmSlidingWindowLog,
		ticks:    make(chan error, int(fastForward/cfg.Limiter.Interval)+1),
	}

	sc.cp, err = engine{
		cfg:    cfg,
		store:  storage.NewMemoryStore(vc),
		clock:  vc,
		logger: ro.baseLogger(),
		limOpts: []limiter.Option{
			limiter.WithMaintenanceHook(func(_ limiter.Algorithm, err error) {
				select {
				case sc.ticks <- err:
				default:
				}
			}),
		},
	}.build()
	if err != nil {
		return nil, err
	}
	return sc, nil
}

// fastForward advances virtual time by d and waits for every maintenance
// pass that falls due.
func (sc *scenario) fastForward(d time.Duration) error {
	sc.vc.Advance(d)
	if !sc.timed {
		return nil
	}
	for i := int64(0); i < int64(d/sc.interval); i++ {
		select {
		case <-sc.ticks:
		case <-time.After(tickWait):
			return fmt.Errorf("maintenance pass %d did not run within %s", i+1, tickWait)
		}
	}
	return nil
}

// TestResult captures the full output of a test run.
type TestResult struct {
	Algorithm   string             `json:"algorithm"`
	Limit       int64              `json:"limit"`
	Interval    string             `json:"interval"`
	FastForward string             `json:"fast_forward,omitempty"`
	Batches     []BatchResult      `json:"batches"`
	Summary     map[string]Summary `json:"summary"`
}

// BatchResult captures results for one batch of requests.
type BatchResult struct {
	Label     string           `json:"label"`
	Time      string           `json:"time"`
	Decisions []DecisionRecord `json:"decisions"`
}

// DecisionRecord is a single admission check result.
type DecisionRecord struct {
	Identity  string `json:"identity"`
	Admitted  bool   `json:"admitted"`
	Status    int    `json:"status,omitempty"`
	Count     int64  `json:"count"`
	Remaining int64  `json:"remaining"`
	Limit     int64  `json:"limit"`
}

// Summary aggregates stats per identity.
type Summary struct {
	TotalRequests int `json:"total_requests"`
	Admitted      int `json:"admitted"`
	Rejected      int `json:"rejected"`
}

func runTest(ctx context.Context, sc *scenario, identities []string, path string, requests int, fastForward time.Duration) (TestResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	result := TestResult{
		Algorithm: string(sc.cp.Limiter().Algorithm()),
		Interval:  sc.interval.String(),
		Summary:   make(map[string]Summary),
	}

	batch := func(label string) error {
		b := BatchResult{Label: label, Time: sc.vc.Now().Format(time.RFC3339)}
		for i := 0; i < requests; i++ {
			for _, id := range identities {
				v, err := sc.cp.Check(ctx, requestFor(sc.field, id, path))
				if err != nil {
					return err
				}
				rec := DecisionRecord{
					Identity:  id,
					Admitted:  v.Admitted,
					Count:     v.Decision.Count,
					Remaining: v.Decision.Remaining,
					Limit:     v.Decision.Limit,
				}
				if v.Rejection != nil {
					rec.Status = v.Rejection.Status
				}
				if v.Decision.Limit > result.Limit {
					result.Limit = v.Decision.Limit
				}
				b.Decisions = append(b.Decisions, rec)

				s := result.Summary[id]
				s.TotalRequests++
				if v.Admitted {
					s.Admitted++
				} else {
					s.Rejected++
				}
				result.Summary[id] = s
			}
		}
		result.Batches = append(result.Batches, b)
		return nil
	}

	if err := batch("Initial requests"); err != nil {
		return result, err
	}
	if fastForward > 0 {
		if err := sc.fastForward(fastForward); err != nil {
			return result, err
		}
		result.FastForward = fastForward.String()
		if err := batch(fmt.Sprintf("After fast-forward %s", fastForward)); err != nil {
			return result, err
		}
	}
	return result, nil
}

func requestFor(field keys.Field, identity, path string) keys.StaticRequest {
	req := keys.StaticRequest{URLPath: path, HostName: "localhost"}
	switch field.Kind {
	case keys.FieldHeader:
		req.Headers = map[string]string{field.Name: identity}
	case keys.FieldQuery:
		req.Params = map[string]string{field.Name: identity}
	}
	return req
}

func printTestResult(w io.Writer, r *TestResult) {
	fmt.Fprintln(w, "=== Checkpoint Admission Test ===")
	fmt.Fprintf(w, "algorithm=%s limit=%d interval=%s\n\n", r.Algorithm, r.Limit, r.Interval)

	for _, batch := range r.Batches {
		fmt.Fprintf(w, "--- %s (at %s) ---\n", batch.Label, batch.Time)
		for i, dr := range batch.Decisions {
			status := "ADMIT "
			if !dr.Admitted {
				status = "REJECT"
			}
			fmt.Fprintf(w, "  #%03d [%s] identity=%s remaining=%d/%d\n",
				i+1, status, dr.Identity, dr.Remaining, dr.Limit)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "--- Summary ---")
	ids := make([]string, 0, len(r.Summary))
	for id := range r.Summary {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		s := r.Summary[id]
		fmt.Fprintf(w, "  %s: %d total, %d admitted, %d rejected\n",
			id, s.TotalRequests, s.Admitted, s.Rejected)
	}

	if r.FastForward == "" {
		return
	}
	fmt.Fprintf(w, "\nTime travel: fast-forwarded %s\n", r.FastForward)

	rejected := false
	for _, dr := range r.Batches[0].Decisions {
		if !dr.Admitted {
			rejected = true
			break
		}
	}
	recovered := false
	for _, dr := range r.Batches[1].Decisions {
		if dr.Admitted {
			recovered = true
			break
		}
	}
	if rejected && recovered {
		fmt.Fprintln(w)
		fmt.Fprintln(w, strings.Repeat("=", 50))
		fmt.Fprintln(w, "Requests were rejected, then admitted again")
		fmt.Fprintln(w, "after fast-forwarding the clock.")
		fmt.Fprintln(w, strings.Repeat("=", 50))
	}
}
