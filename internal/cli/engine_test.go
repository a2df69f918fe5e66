package cli

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/SmitUplenchwar2687/checkpoint/internal/clock"
	"github.com/SmitUplenchwar2687/checkpoint/internal/config"
	"github.com/SmitUplenchwar2687/checkpoint/internal/keys"
	"github.com/SmitUplenchwar2687/checkpoint/internal/limiter"
	"github.com/SmitUplenchwar2687/checkpoint/internal/storage"
)

func TestEngine_InstrumentsChecksAndMaintenance(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	reg := prometheus.NewRegistry()
	cfg := scenarioConfig(limiter.AlgorithmFixedWindowCounter, 1, 0, time.Minute)

	cp, err := engine{
		cfg:   cfg,
		store: storage.NewMemoryStore(vc),
		clock: vc,
		reg:   reg,
	}.build()
	if err != nil {
		t.Fatalf("build() error = %v", err)
	}
	defer cp.Close()

	req := requestFor(keys.HeaderField("X-Api-Key"), "k1", "/")
	for i := 0; i < 2; i++ {
		if _, err := cp.Check(context.Background(), req); err != nil {
			t.Fatalf("Check() error = %v", err)
		}
	}

	// One admitted and one rejected CheckRequest series.
	if n, err := testutil.GatherAndCount(reg, "checkpoint_op_count"); err != nil || n != 2 {
		t.Fatalf("op series = %d (err %v), want 2", n, err)
	}

	vc.Advance(time.Minute)
	deadline := time.Now().Add(2 * time.Second)
	for {
		n, err := testutil.GatherAndCount(reg, "checkpoint_op_count")
		if err != nil {
			t.Fatal(err)
		}
		if n == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("maintenance pass was not counted, op series = %d", n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEngine_PrefixAndInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Limiter.Prefix = ""
	cp, err := engine{cfg: cfg, store: storage.NewMemoryStore(nil), clock: clock.NewRealClock()}.build()
	if err != nil {
		t.Fatalf("build() with empty prefix error = %v", err)
	}
	cp.Close()

	cfg.Limiter.Interval = 0
	if _, err := (engine{cfg: cfg, store: storage.NewMemoryStore(nil), clock: clock.NewRealClock()}).build(); err == nil {
		t.Fatal("expected error for zero interval")
	}
}
