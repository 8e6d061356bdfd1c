package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/attendance/internal/apperr"
	"rollcall/attendance/internal/attendance"
	"rollcall/attendance/internal/logging"
)

type countingStore struct {
	cfg   attendance.Config
	found bool
	gets  int
}

func (s *countingStore) Get(context.Context) (attendance.Config, error) {
	s.gets++
	if !s.found {
		return attendance.Config{}, apperr.ErrNotFound
	}
	return s.cfg, nil
}

func (s *countingStore) Save(_ context.Context, cfg attendance.Config) (attendance.Config, error) {
	s.cfg, s.found = cfg, true
	return cfg, nil
}

func openTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR_TEST")
	if addr == "" {
		t.Skip("REDIS_ADDR_TEST not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Del(context.Background(), configKey).Err())
	return client
}

func TestConfigCacheWithoutRedisPassesThrough(t *testing.T) {
	store := &countingStore{cfg: attendance.DefaultConfig(), found: true}
	c := NewConfigCache(store, nil, time.Minute, logging.Discard())

	_, err := c.Get(context.Background())
	require.NoError(t, err)
	_, err = c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, store.gets)

	store.found = false
	_, err = c.Get(context.Background())
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestConfigCacheReadThroughAndInvalidate(t *testing.T) {
	client := openTestRedis(t)
	store := &countingStore{cfg: attendance.DefaultConfig(), found: true}
	c := NewConfigCache(store, client, time.Minute, logging.Discard())
	ctx := context.Background()

	first, err := c.Get(ctx)
	require.NoError(t, err)
	second, err := c.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, store.gets)
	assert.Equal(t, first.LateThreshold, second.LateThreshold)
	assert.Equal(t, first.WeekendDays, second.WeekendDays)

	updated := first
	updated.LateThreshold = attendance.NewTimeOfDay(8, 45, 0)
	_, err = c.Save(ctx, updated)
	require.NoError(t, err)

	got, err := c.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, attendance.NewTimeOfDay(8, 45, 0), got.LateThreshold)
	assert.Equal(t, 2, store.gets)
}

func TestSweepLockExcludesSecondHolder(t *testing.T) {
	client := openTestRedis(t)
	ctx := context.Background()
	key := "attendance:sweep:test-" + time.Now().Format(time.RFC3339Nano)

	a := NewSweepLock(client, time.Minute)
	b := NewSweepLock(client, time.Minute)

	ok, err := a.Acquire(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.Acquire(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	// b never held the key, so its release must not free a's lock.
	require.NoError(t, b.Release(ctx, key))
	assert.Equal(t, int64(1), client.Exists(ctx, key).Val())

	require.NoError(t, a.Release(ctx, key))
	ok, err = b.Acquire(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, b.Release(ctx, key))
}
