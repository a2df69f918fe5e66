package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisPoolSize    = 20
	defaultRedisMaxRetries  = 3
	defaultRedisDialTimeout = 5 * time.Second
)

// RedisConfig configures a RedisStore. Cluster mode uses ClusterNodes and
// ignores Host, Port and DB.
type RedisConfig struct {
	Host         string        `json:"host" yaml:"host"`
	Port         int           `json:"port" yaml:"port"`
	Password     string        `json:"-" yaml:"password"`
	DB           int           `json:"db" yaml:"db"`
	PoolSize     int           `json:"pool_size" yaml:"pool_size"`
	MaxRetries   int           `json:"max_retries" yaml:"max_retries"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	Cluster      bool          `json:"cluster" yaml:"cluster"`
	ClusterNodes []string      `json:"cluster_nodes,omitempty" yaml:"cluster_nodes,omitempty"`
}

var redisZTrimAddCountScript = redis.NewScript(`
local key = KEYS[1]
local cutoff = ARGV[1]
local score = ARGV[2]
local member = ARGV[3]
local ttl = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', cutoff)
redis.call('ZADD', key, score, member)
if ttl > 0 then
  redis.call('PEXPIRE', key, ttl)
end
return redis.call('ZCOUNT', key, 0, score)
`)

var redisTakeTokenScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])

if redis.call('EXISTS', key) == 0 then
  redis.call('SET', key, capacity)
end
local tokens = tonumber(redis.call('GET', key))
if tokens > 0 then
  return {redis.call('DECR', key), 1}
end
return {tokens, 0}
`)

var redisAdjustClampedScript = redis.NewScript(`
local key = KEYS[1]
local delta = tonumber(ARGV[1])
local lo = tonumber(ARGV[2])
local hi = tonumber(ARGV[3])

local current = redis.call('GET', key)
if not current then
  return {0, 0}
end
local value = tonumber(current) + delta
if value < lo then value = lo end
if value > hi then value = hi end
redis.call('SET', key, value, 'KEEPTTL')
return {value, 1}
`)

// RedisStore is a Store backed by a Redis server or cluster. Primitive
// operations map to single commands and compound ones run as Lua scripts,
// so every call is atomic on the server.
type RedisStore struct {
	client redis.UniversalClient

	closeOnce sync.Once
	closeErr  error
}

// NewRedisStore connects to Redis and verifies the connection with a
// ping, retrying with exponential backoff.
func NewRedisStore(ctx context.Context, cfg *RedisConfig) (*RedisStore, error) {
	conf, err := normalizeRedisConfig(cfg)
	if err != nil {
		return nil, err
	}

	s := &RedisStore{client: newRedisClient(conf)}
	if err := s.pingWithRetry(ctx, conf.MaxRetries); err != nil {
		_ = s.client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client. The store takes
// ownership and closes the client on Close.
func NewRedisStoreFromClient(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Increment(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis INCR %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) IncrementBy(ctx context.Context, key string, delta int64) (int64, error) {
	n, err := s.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("redis INCRBY %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) Decrement(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Decr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis DECR %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value int64, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (int64, bool, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis GET %s: %w", key, err)
	}
	return n, true, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("redis EXISTS %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis DEL %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) AppendAndLen(ctx context.Context, key, value string) (int64, error) {
	n, err := s.client.RPush(ctx, key, value).Result()
	if err != nil {
		return 0, fmt.Errorf("redis RPUSH %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) ZAdd(ctx context.Context, key string, score int64, member string) error {
	err := s.client.ZAdd(ctx, key, redis.Z{Score: float64(score), Member: member}).Err()
	if err != nil {
		return fmt.Errorf("redis ZADD %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) ZRemoveRangeByScore(ctx context.Context, key string, max int64) (int64, error) {
	n, err := s.client.ZRemRangeByScore(ctx, key, "-inf", formatScore(max)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ZREMRANGEBYSCORE %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) ZCountByScoreRange(ctx context.Context, key string, min, max int64) (int64, error) {
	n, err := s.client.ZCount(ctx, key, formatScore(min), formatScore(max)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis ZCOUNT %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) ZTrimAddCount(ctx context.Context, key string, cutoff, score int64, member string, ttl time.Duration) (int64, error) {
	res, err := redisZTrimAddCountScript.Run(ctx, s.client, []string{key},
		formatScore(cutoff), formatScore(score), member, ttl.Milliseconds()).Result()
	if err != nil {
		return 0, fmt.Errorf("running redis sliding log script on %s: %w", key, err)
	}
	n, err := asInt64(res)
	if err != nil {
		return 0, fmt.Errorf("parsing sliding log count: %w", err)
	}
	return n, nil
}

func (s *RedisStore) TakeToken(ctx context.Context, key string, capacity int64) (int64, bool, error) {
	res, err := redisTakeTokenScript.Run(ctx, s.client, []string{key}, capacity).Result()
	if err != nil {
		return 0, false, fmt.Errorf("running redis take token script on %s: %w", key, err)
	}
	value, flag, err := asPair(res)
	if err != nil {
		return 0, false, fmt.Errorf("parsing take token result: %w", err)
	}
	return value, flag == 1, nil
}

func (s *RedisStore) AdjustClamped(ctx context.Context, key string, delta, lo, hi int64) (int64, bool, error) {
	res, err := redisAdjustClampedScript.Run(ctx, s.client, []string{key}, delta, lo, hi).Result()
	if err != nil {
		return 0, false, fmt.Errorf("running redis adjust script on %s: %w", key, err)
	}
	value, flag, err := asPair(res)
	if err != nil {
		return 0, false, fmt.Errorf("parsing adjust result: %w", err)
	}
	return value, flag == 1, nil
}

// Close releases Redis resources. It is idempotent.
func (s *RedisStore) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.client.Close()
	})
	return s.closeErr
}

func (s *RedisStore) pingWithRetry(ctx context.Context, maxRetries int) error {
	attempts := maxRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	backoff := 100 * time.Millisecond
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := s.client.Ping(ctx).Err(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
	}

	if lastErr == nil {
		lastErr = errors.New("ping failed with unknown error")
	}
	return lastErr
}

func normalizeRedisConfig(cfg *RedisConfig) (*RedisConfig, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	conf := *cfg
	if conf.PoolSize <= 0 {
		conf.PoolSize = defaultRedisPoolSize
	}
	if conf.MaxRetries <= 0 {
		conf.MaxRetries = defaultRedisMaxRetries
	}
	if conf.DialTimeout <= 0 {
		conf.DialTimeout = defaultRedisDialTimeout
	}

	if conf.Cluster {
		if len(conf.ClusterNodes) == 0 {
			return nil, fmt.Errorf("cluster_nodes is required when cluster=true")
		}
	} else {
		if conf.Host == "" {
			return nil, fmt.Errorf("host is required when cluster=false")
		}
		if conf.Port <= 0 {
			return nil, fmt.Errorf("port must be positive when cluster=false, got %d", conf.Port)
		}
	}

	return &conf, nil
}

func newRedisClient(cfg *RedisConfig) redis.UniversalClient {
	if cfg.Cluster {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:       cfg.ClusterNodes,
			Password:    cfg.Password,
			PoolSize:    cfg.PoolSize,
			MaxRetries:  cfg.MaxRetries,
			DialTimeout: cfg.DialTimeout,
		})
	}

	return redis.NewClient(&redis.Options{
		Addr:        cfg.Host + ":" + strconv.Itoa(cfg.Port),
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		MaxRetries:  cfg.MaxRetries,
		DialTimeout: cfg.DialTimeout,
	})
}

func formatScore(v int64) string {
	if v == minScore {
		return "-inf"
	}
	return strconv.FormatInt(v, 10)
}

func asPair(res interface{}) (int64, int64, error) {
	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected redis script result: %T", res)
	}
	a, err := asInt64(values[0])
	if err != nil {
		return 0, 0, err
	}
	b, err := asInt64(values[1])
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

func asInt64(v interface{}) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case float64:
		return int64(x), nil
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse int64 from %q: %w", x, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported numeric type %T", v)
	}
}
