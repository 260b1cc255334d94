package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/lk2023060901/resumable-upload/internal/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.MasterAddr = mr.Addr()

	client, err := New(cfg, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "default", mutate: func(c *Config) {}},
		{name: "missing master addr", mutate: func(c *Config) { c.MasterAddr = "" }, wantErr: true},
		{name: "unknown mode", mutate: func(c *Config) { c.Mode = "ring" }, wantErr: true},
		{name: "sentinel without master name", mutate: func(c *Config) {
			c.Mode = ModeSentinel
			c.SentinelAddrs = []string{"localhost:26379"}
		}, wantErr: true},
		{name: "cluster", mutate: func(c *Config) {
			c.Mode = ModeCluster
			c.ClusterAddrs = []string{"localhost:7000"}
		}},
		{name: "read-write without slaves", mutate: func(c *Config) { c.Mode = ModeReadWrite }, wantErr: true},
		{name: "db out of range", mutate: func(c *Config) { c.DB = 16 }, wantErr: true},
		{name: "zero pool", mutate: func(c *Config) { c.PoolSize = 0 }, wantErr: true},
		{name: "idle exceeds pool", mutate: func(c *Config) { c.MinIdleConns = 11 }, wantErr: true},
		{name: "backoff inverted", mutate: func(c *Config) { c.MinRetryBackoff = time.Second }, wantErr: true},
		{name: "tls without material", mutate: func(c *Config) { c.EnableTLS = true }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_Unreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MasterAddr = "127.0.0.1:1"
	cfg.DialTimeout = 100 * time.Millisecond
	cfg.MaxRetries = 0

	_, err := New(cfg, nil)
	assert.Error(t, err)
}

func TestStringOperations(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	_, err := client.Get(ctx, "missing")
	assert.True(t, IsNil(err))

	require.NoError(t, client.Set(ctx, "k", []byte(`{"state":"idle"}`), time.Minute))
	val, err := client.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `{"state":"idle"}`, string(val))

	ttl, err := client.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, ttl)

	mr.FastForward(2 * time.Minute)
	_, err = client.Get(ctx, "k")
	assert.True(t, IsNil(err))

	require.NoError(t, client.Set(ctx, "k2", "v", 0))
	n, err := client.Del(ctx, "k2", "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestLock(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	token, err := client.Lock(ctx, "lock:a", time.Second)
	require.NoError(t, err)

	_, err = client.Lock(ctx, "lock:a", time.Second)
	assert.ErrorIs(t, err, ErrLockNotHeld)

	assert.ErrorIs(t, client.Unlock(ctx, "lock:a", "someone-else"), ErrLockMismatch)
	require.NoError(t, client.Unlock(ctx, "lock:a", token))

	_, err = client.Lock(ctx, "lock:a", time.Second)
	assert.NoError(t, err)
}

func TestExtend(t *testing.T) {
	client, mr := setupTestClient(t)
	ctx := context.Background()

	token, err := client.Lock(ctx, "lock:c", time.Second)
	require.NoError(t, err)

	mr.FastForward(900 * time.Millisecond)
	require.NoError(t, client.Extend(ctx, "lock:c", token, 5*time.Second))
	assert.Equal(t, 5*time.Second, mr.TTL("lock:c"))

	assert.ErrorIs(t, client.Extend(ctx, "lock:c", "someone-else", time.Minute), ErrLockMismatch)
	assert.Equal(t, 5*time.Second, mr.TTL("lock:c"))

	mr.FastForward(6 * time.Second)
	assert.ErrorIs(t, client.Extend(ctx, "lock:c", token, time.Minute), ErrLockMismatch)
	assert.False(t, mr.Exists("lock:c"))
}

func TestTryLock(t *testing.T) {
	client, _ := setupTestClient(t)
	ctx := context.Background()

	token, err := client.Lock(ctx, "lock:b", time.Minute)
	require.NoError(t, err)

	_, err = client.TryLock(ctx, "lock:b", time.Minute, 2, 10*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockNotHeld)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = client.Unlock(context.Background(), "lock:b", token)
	}()
	_, err = client.TryLock(ctx, "lock:b", time.Minute, 50, 10*time.Millisecond)
	assert.NoError(t, err)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = client.TryLock(cctx, "lock:b", time.Minute, 5, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}
