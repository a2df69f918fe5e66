package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/SmitUplenchwar2687/checkpoint/internal/keys"
	"github.com/SmitUplenchwar2687/checkpoint/internal/limiter"
	"github.com/SmitUplenchwar2687/checkpoint/internal/storage"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "CHECKPOINT_"

// Config is the top-level configuration for a Checkpoint process.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Limiter LimiterConfig `yaml:"limiter"`
	Storage StorageConfig `yaml:"storage"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// FailOpen admits requests when the store cannot be reached.
	FailOpen bool `yaml:"fail_open"`
}

// LimiterConfig selects an algorithm and its parameters.
//
// Limit is the per-window request count for the window algorithms and
// the bucket capacity for the bucket algorithms. Interval is the window
// length or the drain/refill period. Rate is the number of units drained
// or refilled per Interval and is ignored by the window algorithms.
type LimiterConfig struct {
	Algorithm limiter.Algorithm `yaml:"algorithm"`
	Limit     int64             `yaml:"limit"`
	Interval  time.Duration     `yaml:"interval"`
	Rate      int64             `yaml:"rate"`
	Field     string            `yaml:"field"`
	Scope     string            `yaml:"scope"`
	Prefix    string            `yaml:"prefix"`
}

// StorageConfig selects and configures the counter store.
type StorageConfig struct {
	Backend string              `yaml:"backend"`
	Memory  MemoryConfig        `yaml:"memory"`
	Redis   storage.RedisConfig `yaml:"redis"`
}

// MemoryConfig configures the in-process store.
type MemoryConfig struct {
	// CleanupInterval is how often expired keys are purged. Zero disables it.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Limiter: LimiterConfig{
			Algorithm: limiter.AlgorithmTokenBucket,
			Limit:     10,
			Interval:  time.Minute,
			Rate:      10,
			Field:     "header:X-Api-Key",
			Scope:     "endpoint",
			Prefix:    limiter.DefaultPrefix,
		},
		Storage: StorageConfig{
			Backend: BackendMemory,
			Memory: MemoryConfig{
				CleanupInterval: time.Minute,
			},
			Redis: storage.RedisConfig{
				Host:        "localhost",
				Port:        6379,
				PoolSize:    20,
				MaxRetries:  3,
				DialTimeout: 5 * time.Second,
			},
		},
	}
}

// Validate checks that the config is valid.
func (c Config) Validate() error {
	if _, err := limiter.ParseAlgorithm(string(c.Limiter.Algorithm)); err != nil {
		return err
	}
	if c.Limiter.Limit < 0 {
		return fmt.Errorf("limit must be non-negative, got %d", c.Limiter.Limit)
	}
	if c.Limiter.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", c.Limiter.Interval)
	}
	if c.Limiter.Rate < 0 {
		return fmt.Errorf("rate must be non-negative, got %d", c.Limiter.Rate)
	}
	if _, err := keys.ParseField(c.Limiter.Field); err != nil {
		return fmt.Errorf("limiter.field: %w", err)
	}
	if _, err := keys.ParseScope(c.Limiter.Scope); err != nil {
		return fmt.Errorf("limiter.scope: %w", err)
	}
	lc, err := c.Build()
	if err != nil {
		return err
	}
	if err := lc.Validate(); err != nil {
		return err
	}

	switch c.Storage.Backend {
	case BackendMemory:
		if c.Storage.Memory.CleanupInterval < 0 {
			return fmt.Errorf("memory cleanup_interval must be non-negative, got %s", c.Storage.Memory.CleanupInterval)
		}
	case BackendRedis:
		r := c.Storage.Redis
		if r.Cluster {
			if len(r.ClusterNodes) == 0 {
				return errors.New("redis cluster_nodes is required when cluster=true")
			}
		} else {
			if r.Host == "" {
				return errors.New("redis host is required")
			}
			if r.Port <= 0 {
				return fmt.Errorf("redis port must be positive, got %d", r.Port)
			}
		}
	default:
		return fmt.Errorf("unknown storage backend %q, must be one of: %s, %s", c.Storage.Backend, BackendMemory, BackendRedis)
	}
	return nil
}

// Build returns the algorithm configuration described by c.
func (c Config) Build() (limiter.Config, error) {
	field, err := keys.ParseField(c.Limiter.Field)
	if err != nil {
		return nil, err
	}
	scope, err := keys.ParseScope(c.Limiter.Scope)
	if err != nil {
		return nil, err
	}

	l := c.Limiter
	switch l.Algorithm {
	case limiter.AlgorithmFixedWindowCounter:
		return limiter.FixedWindowCounterConfig{RequestsPerWindow: l.Limit, WindowDuration: l.Interval, Field: field, Scope: scope}, nil
	case limiter.AlgorithmSlidingWindowLog:
		return limiter.SlidingWindowLogConfig{RequestsPerWindow: l.Limit, WindowDuration: l.Interval, Field: field, Scope: scope}, nil
	case limiter.AlgorithmLeakingBucket:
		return limiter.LeakingBucketConfig{BucketCapacity: l.Limit, DrainRate: l.Rate, DrainInterval: l.Interval, Field: field, Scope: scope}, nil
	case limiter.AlgorithmTokenBucket:
		return limiter.TokenBucketConfig{BucketCapacity: l.Limit, RefillRate: l.Rate, RefillInterval: l.Interval, Field: field, Scope: scope}, nil
	}
	return nil, fmt.Errorf("%w: unknown algorithm %q", limiter.ErrInvalidConfig, l.Algorithm)
}

// LoadFile reads a YAML config file and merges it with defaults.
// Fields not specified in the file retain their default values.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	// Durations are strings in the file.
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	if raw.Server.Addr != "" {
		cfg.Server.Addr = raw.Server.Addr
	}
	if raw.Server.FailOpen != nil {
		cfg.Server.FailOpen = *raw.Server.FailOpen
	}

	if raw.Limiter.Algorithm != "" {
		cfg.Limiter.Algorithm = limiter.Algorithm(raw.Limiter.Algorithm)
	}
	if raw.Limiter.Limit != nil {
		cfg.Limiter.Limit = *raw.Limiter.Limit
	}
	if raw.Limiter.Rate != nil {
		cfg.Limiter.Rate = *raw.Limiter.Rate
	}
	if err := setDuration(&cfg.Limiter.Interval, raw.Limiter.Interval, "limiter.interval"); err != nil {
		return cfg, err
	}
	if raw.Limiter.Field != nil {
		cfg.Limiter.Field = *raw.Limiter.Field
	}
	if raw.Limiter.Scope != nil {
		cfg.Limiter.Scope = *raw.Limiter.Scope
	}
	if raw.Limiter.Prefix != "" {
		cfg.Limiter.Prefix = raw.Limiter.Prefix
	}

	if raw.Storage.Backend != "" {
		cfg.Storage.Backend = raw.Storage.Backend
	}
	if err := setDuration(&cfg.Storage.Memory.CleanupInterval, raw.Storage.Memory.CleanupInterval, "storage.memory.cleanup_interval"); err != nil {
		return cfg, err
	}

	r := raw.Storage.Redis
	if r.Host != "" {
		cfg.Storage.Redis.Host = r.Host
	}
	if r.Port > 0 {
		cfg.Storage.Redis.Port = r.Port
	}
	if r.Password != "" {
		cfg.Storage.Redis.Password = r.Password
	}
	if r.DB > 0 {
		cfg.Storage.Redis.DB = r.DB
	}
	if r.PoolSize > 0 {
		cfg.Storage.Redis.PoolSize = r.PoolSize
	}
	if r.MaxRetries > 0 {
		cfg.Storage.Redis.MaxRetries = r.MaxRetries
	}
	if err := setDuration(&cfg.Storage.Redis.DialTimeout, r.DialTimeout, "storage.redis.dial_timeout"); err != nil {
		return cfg, err
	}
	if r.Cluster {
		cfg.Storage.Redis.Cluster = true
	}
	if len(r.ClusterNodes) > 0 {
		cfg.Storage.Redis.ClusterNodes = r.ClusterNodes
	}

	return cfg, nil
}

func setDuration(dst *time.Duration, s, name string) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", name, err)
	}
	*dst = d
	return nil
}

// rawConfig is the YAML-friendly representation with string durations.
// Pointers distinguish an explicit zero from an absent field.
type rawConfig struct {
	Server struct {
		Addr     string `yaml:"addr"`
		FailOpen *bool  `yaml:"fail_open"`
	} `yaml:"server"`
	Limiter struct {
		Algorithm string  `yaml:"algorithm"`
		Limit     *int64  `yaml:"limit"`
		Interval  string  `yaml:"interval"`
		Rate      *int64  `yaml:"rate"`
		Field     *string `yaml:"field"`
		Scope     *string `yaml:"scope"`
		Prefix    string  `yaml:"prefix"`
	} `yaml:"limiter"`
	Storage struct {
		Backend string `yaml:"backend"`
		Memory  struct {
			CleanupInterval string `yaml:"cleanup_interval"`
		} `yaml:"memory"`
		Redis struct {
			Host         string   `yaml:"host"`
			Port         int      `yaml:"port"`
			Password     string   `yaml:"password"`
			DB           int      `yaml:"db"`
			PoolSize     int      `yaml:"pool_size"`
			MaxRetries   int      `yaml:"max_retries"`
			DialTimeout  string   `yaml:"dial_timeout"`
			Cluster      bool     `yaml:"cluster"`
			ClusterNodes []string `yaml:"cluster_nodes"`
		} `yaml:"redis"`
	} `yaml:"storage"`
}

// ApplyEnv overrides cfg with CHECKPOINT_* environment variables. A .env
// file in the working directory is loaded first if present; variables
// already set in the environment win over it.
func ApplyEnv(cfg *Config) error {
	_ = godotenv.Load()
	return applyEnv(cfg, os.LookupEnv)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	var errs []error
	integer := func(name string, dst *int64) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	duration := func(name string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + name); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	boolean := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("ADDR", &cfg.Server.Addr)
	boolean("FAIL_OPEN", &cfg.Server.FailOpen)

	var alg string
	str("ALGORITHM", &alg)
	if alg != "" {
		cfg.Limiter.Algorithm = limiter.Algorithm(alg)
	}
	integer("LIMIT", &cfg.Limiter.Limit)
	integer("RATE", &cfg.Limiter.Rate)
	duration("INTERVAL", &cfg.Limiter.Interval)
	str("FIELD", &cfg.Limiter.Field)
	str("SCOPE", &cfg.Limiter.Scope)
	str("PREFIX", &cfg.Limiter.Prefix)

	str("STORAGE", &cfg.Storage.Backend)
	duration("MEMORY_CLEANUP_INTERVAL", &cfg.Storage.Memory.CleanupInterval)
	str("REDIS_HOST", &cfg.Storage.Redis.Host)
	str("REDIS_PASSWORD", &cfg.Storage.Redis.Password)
	var port, db int64 = int64(cfg.Storage.Redis.Port), int64(cfg.Storage.Redis.DB)
	integer("REDIS_PORT", &port)
	integer("REDIS_DB", &db)
	cfg.Storage.Redis.Port, cfg.Storage.Redis.DB = int(port), int(db)
	boolean("REDIS_CLUSTER", &cfg.Storage.Redis.Cluster)
	var nodes string
	str("REDIS_CLUSTER_NODES", &nodes)
	if nodes != "" {
		cfg.Storage.Redis.ClusterNodes = splitList(nodes)
	}

	return errors.Join(errs...)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// WriteExample writes an example config file to the given path.
func WriteExample(path string) error {
	example := `server:
  addr: ":8080"
  fail_open: false

limiter:
  # fixed_window_counter, sliding_window_log, leaking_bucket or token_bucket
  algorithm: token_bucket
  limit: 10
  interval: 1m
  rate: 10
  # header:<Name>, query:<name> or none
  field: "header:X-Api-Key"
  # endpoint, api or none
  scope: endpoint
  prefix: checkpoint

storage:
  backend: memory
  memory:
    cleanup_interval: 1m
  redis:
    host: localhost
    port: 6379
    db: 0
    pool_size: 20
    max_retries: 3
    dial_timeout: 5s
`
	return os.WriteFile(path, []byte(example), 0o644)
}
