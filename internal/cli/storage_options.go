package cli

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/checkpoint/internal/clock"
	"github.com/SmitUplenchwar2687/checkpoint/internal/config"
	"github.com/SmitUplenchwar2687/checkpoint/internal/storage"
	"github.com/SmitUplenchwar2687/checkpoint/internal/window"
)

type storageOptions struct {
	backend               string
	memoryCleanupInterval time.Duration
	redisHost             string
	redisPort             int
	redisPassword         string
	redisDB               int
	redisCluster          bool
	redisClusterNodes     []string
	redisPoolSize         int
	redisMaxRetries       int
	redisDialTimeout      time.Duration
}

func (o *storageOptions) addFlags(cmd *cobra.Command) {
	def := config.Default().Storage
	cmd.Flags().StringVar(&o.backend, "storage", def.Backend, "storage backend (memory, redis)")
	cmd.Flags().DurationVar(&o.memoryCleanupInterval, "storage-memory-cleanup-interval", def.Memory.CleanupInterval, "cleanup interval for memory storage backend")
	cmd.Flags().StringVar(&o.redisHost, "redis-host", def.Redis.Host, "redis host (or host:port)")
	cmd.Flags().IntVar(&o.redisPort, "redis-port", def.Redis.Port, "redis port")
	cmd.Flags().StringVar(&o.redisPassword, "redis-password", "", "redis password")
	cmd.Flags().IntVar(&o.redisDB, "redis-db", 0, "redis database index")
	cmd.Flags().BoolVar(&o.redisCluster, "redis-cluster", false, "enable redis cluster mode")
	cmd.Flags().StringSliceVar(&o.redisClusterNodes, "redis-cluster-nodes", nil, "redis cluster nodes host:port list")
	cmd.Flags().IntVar(&o.redisPoolSize, "redis-pool-size", def.Redis.PoolSize, "redis connection pool size")
	cmd.Flags().IntVar(&o.redisMaxRetries, "redis-max-retries", def.Redis.MaxRetries, "redis max retries")
	cmd.Flags().DurationVar(&o.redisDialTimeout, "redis-dial-timeout", def.Redis.DialTimeout, "redis dial timeout")
}

// apply overrides cfg with the flags that were set explicitly.
func (o *storageOptions) apply(cmd *cobra.Command, cfg *config.StorageConfig) error {
	f := cmd.Flags()
	if f.Changed("storage") {
		cfg.Backend = o.backend
	}
	if f.Changed("storage-memory-cleanup-interval") {
		cfg.Memory.CleanupInterval = o.memoryCleanupInterval
	}
	if f.Changed("redis-host") {
		cfg.Redis.Host = o.redisHost
	}
	if f.Changed("redis-port") {
		cfg.Redis.Port = o.redisPort
	}
	if f.Changed("redis-password") {
		cfg.Redis.Password = o.redisPassword
	}
	if f.Changed("redis-db") {
		cfg.Redis.DB = o.redisDB
	}
	if f.Changed("redis-cluster") {
		cfg.Redis.Cluster = o.redisCluster
	}
	if f.Changed("redis-cluster-nodes") {
		cfg.Redis.ClusterNodes = append([]string(nil), o.redisClusterNodes...)
	}
	if f.Changed("redis-pool-size") {
		cfg.Redis.PoolSize = o.redisPoolSize
	}
	if f.Changed("redis-max-retries") {
		cfg.Redis.MaxRetries = o.redisMaxRetries
	}
	if f.Changed("redis-dial-timeout") {
		cfg.Redis.DialTimeout = o.redisDialTimeout
	}

	if cfg.Backend != config.BackendRedis || cfg.Redis.Cluster {
		return nil
	}
	host, port, err := normalizeRedisHostPort(cfg.Redis.Host, cfg.Redis.Port)
	if err != nil {
		return err
	}
	cfg.Redis.Host, cfg.Redis.Port = host, port
	return nil
}

func normalizeRedisHostPort(host string, port int) (string, int, error) {
	if strings.Contains(host, ":") {
		h, p, err := net.SplitHostPort(host)
		if err != nil {
			return "", 0, fmt.Errorf("invalid redis host value %q: %w", host, err)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("invalid redis port in host %q: %w", host, err)
		}
		host = h
		port = n
	}

	if host == "" {
		return "", 0, fmt.Errorf("redis host cannot be empty")
	}
	if port <= 0 {
		return "", 0, fmt.Errorf("redis port must be positive, got %d", port)
	}

	return host, port, nil
}

// openStore connects the configured backend. The returned stop function
// halts background work owned by the store; Close is still the caller's.
func openStore(ctx context.Context, cfg config.StorageConfig, clk clock.Clock, logger log.Logger) (storage.Store, func(), error) {
	switch cfg.Backend {
	case config.BackendMemory:
		s := storage.NewMemoryStore(clk)
		if cfg.Memory.CleanupInterval <= 0 {
			return s, func() {}, nil
		}
		t := window.Schedule(clk, cfg.Memory.CleanupInterval, func(context.Context) error {
			s.Cleanup()
			return nil
		}, window.WithLogger(logger), window.WithName("memory_cleanup"))
		return s, t.Stop, nil
	case config.BackendRedis:
		s, err := storage.NewRedisStore(ctx, &cfg.Redis)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
