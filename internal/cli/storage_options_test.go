package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/go-kit/log/level"
	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/checkpoint/internal/clock"
	"github.com/SmitUplenchwar2687/checkpoint/internal/config"
	"github.com/SmitUplenchwar2687/checkpoint/internal/storage"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestNormalizeRedisHostPort(t *testing.T) {
	host, port, err := normalizeRedisHostPort("localhost:6380", 6379)
	if err != nil {
		t.Fatalf("normalizeRedisHostPort() error = %v", err)
	}
	if host != "localhost" || port != 6380 {
		t.Fatalf("normalizeRedisHostPort() = %s:%d, want localhost:6380", host, port)
	}

	host, port, err = normalizeRedisHostPort("redis.internal", 6379)
	if err != nil {
		t.Fatalf("normalizeRedisHostPort() error = %v", err)
	}
	if host != "redis.internal" || port != 6379 {
		t.Fatalf("normalizeRedisHostPort() = %s:%d, want redis.internal:6379", host, port)
	}
}

func TestNormalizeRedisHostPort_Invalid(t *testing.T) {
	if _, _, err := normalizeRedisHostPort("", 6379); err == nil {
		t.Fatal("expected error for empty host")
	}
	if _, _, err := normalizeRedisHostPort("localhost", 0); err == nil {
		t.Fatal("expected error for non-positive port")
	}
	if _, _, err := normalizeRedisHostPort("localhost:port", 6379); err == nil {
		t.Fatal("expected error for non-numeric port")
	}
}

func parseStorageFlags(t *testing.T, args ...string) (*cobra.Command, *storageOptions) {
	t.Helper()
	var so storageOptions
	cmd := &cobra.Command{Use: "x"}
	so.addFlags(cmd)
	if err := cmd.ParseFlags(args); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}
	return cmd, &so
}

func TestStorageOptions_OnlyChangedFlagsApply(t *testing.T) {
	cmd, so := parseStorageFlags(t, "--storage", "redis", "--redis-host", "cache:6390")

	cfg := config.Default().Storage
	cfg.Redis.PoolSize = 99
	if err := so.apply(cmd, &cfg); err != nil {
		t.Fatalf("apply() error = %v", err)
	}
	if cfg.Backend != config.BackendRedis {
		t.Errorf("backend = %q, want redis", cfg.Backend)
	}
	if cfg.Redis.Host != "cache" || cfg.Redis.Port != 6390 {
		t.Errorf("redis endpoint = %s:%d, want cache:6390", cfg.Redis.Host, cfg.Redis.Port)
	}
	if cfg.Redis.PoolSize != 99 {
		t.Errorf("pool size = %d, want the unchanged 99", cfg.Redis.PoolSize)
	}
}

func TestOpenStore_Memory(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	cfg := config.Default().Storage
	cfg.Memory.CleanupInterval = time.Minute

	s, stop, err := openStore(context.Background(), cfg, vc, nil)
	if err != nil {
		t.Fatalf("openStore() error = %v", err)
	}
	defer s.Close()

	ms, ok := s.(*storage.MemoryStore)
	if !ok {
		t.Fatalf("openStore() = %T, want *storage.MemoryStore", s)
	}
	if err := ms.Set(context.Background(), "k", 1, time.Second); err != nil {
		t.Fatal(err)
	}

	vc.Advance(time.Minute)
	deadline := time.Now().Add(2 * time.Second)
	for ms.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("expired key was never cleaned up")
		}
		time.Sleep(5 * time.Millisecond)
	}
	stop()
}

func TestOpenStore_UnknownBackend(t *testing.T) {
	cfg := config.Default().Storage
	cfg.Backend = "bogus"
	if _, _, err := openStore(context.Background(), cfg, clock.NewRealClock(), nil); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "json", "warn")
	if err != nil {
		t.Fatal(err)
	}
	_ = level.Info(logger).Log("msg", "hidden")
	_ = level.Warn(logger).Log("msg", "shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line passed a warn filter: %s", out)
	}
	if !strings.Contains(out, `"msg":"shown"`) || !strings.Contains(out, `"ts"`) {
		t.Errorf("unexpected output: %s", out)
	}
}
