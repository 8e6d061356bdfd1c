// Package cache keeps hot attendance state in Redis: the config singleton
// read on every tap, and the lock that keeps replicas from sweeping the same
// day at once.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"rollcall/attendance/internal/attendance"
	"rollcall/attendance/internal/logging"
)

const configKey = "attendance:config"

// ConfigCache is a read-through attendance.ConfigStore. Redis failures fall
// back to the wrapped store and are only logged.
type ConfigCache struct {
	next   attendance.ConfigStore
	client redis.Cmdable
	ttl    time.Duration
	log    logging.Logger
}

func NewConfigCache(next attendance.ConfigStore, client redis.Cmdable, ttl time.Duration, log logging.Logger) *ConfigCache {
	return &ConfigCache{next: next, client: client, ttl: ttl, log: log}
}

func (c *ConfigCache) Get(ctx context.Context) (attendance.Config, error) {
	if c.client == nil {
		return c.next.Get(ctx)
	}
	data, err := c.client.Get(ctx, configKey).Bytes()
	switch {
	case err == nil:
		var cfg attendance.Config
		if err := json.Unmarshal(data, &cfg); err == nil {
			return cfg, nil
		}
		c.log.Warn(ctx, "config cache entry unreadable", "error", err)
	case !errors.Is(err, redis.Nil):
		c.log.Warn(ctx, "config cache read failed", "error", err)
	}

	cfg, err := c.next.Get(ctx)
	if err != nil {
		return attendance.Config{}, err
	}
	c.store(ctx, cfg)
	return cfg, nil
}

func (c *ConfigCache) Save(ctx context.Context, cfg attendance.Config) (attendance.Config, error) {
	saved, err := c.next.Save(ctx, cfg)
	if err != nil {
		return attendance.Config{}, err
	}
	if c.client != nil {
		if err := c.client.Del(ctx, configKey).Err(); err != nil {
			c.log.Warn(ctx, "config cache invalidation failed", "error", err)
		}
	}
	return saved, nil
}

func (c *ConfigCache) store(ctx context.Context, cfg attendance.Config) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, configKey, data, c.ttl).Err(); err != nil {
		c.log.Warn(ctx, "config cache write failed", "error", err)
	}
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SweepLock is a jobs.Locker backed by SET NX with an expiry, so a crashed
// holder frees the day once the TTL passes.
type SweepLock struct {
	client redis.Cmdable
	ttl    time.Duration

	mu     sync.Mutex
	tokens map[string]string
}

func NewSweepLock(client redis.Cmdable, ttl time.Duration) *SweepLock {
	return &SweepLock{client: client, ttl: ttl, tokens: map[string]string{}}
}

func (l *SweepLock) Acquire(ctx context.Context, key string) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil || !ok {
		return false, err
	}
	l.mu.Lock()
	l.tokens[key] = token
	l.mu.Unlock()
	return true, nil
}

func (l *SweepLock) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	token, ok := l.tokens[key]
	delete(l.tokens, key)
	l.mu.Unlock()
	if !ok {
		return nil
	}
	return releaseScript.Run(ctx, l.client, []string{key}, token).Err()
}
