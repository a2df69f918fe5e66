package storage

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	testcontainers "github.com/testcontainers/testcontainers-go"
	rediscontainer "github.com/testcontainers/testcontainers-go/modules/redis"
)

// skipUnlessDocker skips t when check reports no usable Docker provider.
// Provider lookup panics on hosts with no Docker socket at all.
func skipUnlessDocker(t *testing.T, check func(*testing.T)) {
	t.Helper()
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("docker unavailable: %v", r)
		}
	}()
	check(t)
}

func runRedisContainer(ctx context.Context) (c *rediscontainer.RedisContainer, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("start redis container: %v", r)
		}
	}()
	return rediscontainer.Run(ctx, "redis:7.2-alpine")
}

func newRedisStoreForTest(t *testing.T) (*RedisStore, func()) {
	t.Helper()
	skipUnlessDocker(t, testcontainers.SkipIfProviderIsNotHealthy)

	ctx := context.Background()
	container, err := runRedisContainer(ctx)
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("container mapped port: %v", err)
	}
	p, err := strconv.Atoi(port.Port())
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("parse mapped port: %v", err)
	}

	store, err := NewRedisStore(ctx, &RedisConfig{
		Host:        host,
		Port:        p,
		PoolSize:    20,
		MaxRetries:  3,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("NewRedisStore() error = %v", err)
	}

	cleanup := func() {
		_ = store.Close()
		_ = container.Terminate(context.Background())
	}
	return store, cleanup
}
