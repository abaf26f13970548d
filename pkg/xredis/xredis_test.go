package xredis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 需要真实 redis：FRAMEFEED_TEST_REDIS=127.0.0.1:6379
func testRedis(t *testing.T) *Config {
	addr := os.Getenv("FRAMEFEED_TEST_REDIS")
	if addr == "" {
		t.Skip("FRAMEFEED_TEST_REDIS not set")
	}
	return &Config{Addr: addr, PoolSize: 4}
}

func TestNewRedis_BadAddr(t *testing.T) {
	_, err := NewRedis(&Config{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
	assert.False(t, (*Config)(nil).Enabled())
}

func TestLeaderLock(t *testing.T) {
	rdb, err := NewRedis(testRedis(t))
	require.NoError(t, err)
	defer rdb.Close()

	ctx := context.Background()
	key := "framefeed:test:leader:" + time.Now().Format("150405.000")
	a := NewLeaderLock(rdb, key, 2*time.Second)
	b := NewLeaderLock(rdb, key, 2*time.Second)
	defer rdb.Del(ctx, key)

	ok, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// 续期
	ok, err = a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	// 别人的锁删不掉
	require.NoError(t, b.Release(ctx))
	ok, _ = b.TryAcquire(ctx)
	assert.False(t, ok)

	require.NoError(t, a.Release(ctx))
	ok, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ReportPoolStats(rdb)
}
