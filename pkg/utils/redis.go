package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls the client shared by the notification publisher and
// the distributed call lock. Zero values fall back to defaults().
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	// OpTimeout bounds each command read and write. Lock calls are
	// short, so it stays well below the lock TTL.
	DialTimeout time.Duration
	OpTimeout   time.Duration
	PingTimeout time.Duration

	PoolSize     int
	MinIdleConns int
}

func (c RedisConfig) defaults() RedisConfig {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 3 * time.Second
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = time.Second
	}
	if c.PingTimeout <= 0 {
		c.PingTimeout = 2 * time.Second
	}
	if c.PoolSize <= 0 {
		c.PoolSize = 20
	}
	if c.MinIdleConns < 0 || c.MinIdleConns > c.PoolSize {
		c.MinIdleConns = 0
	}
	return c
}

func (c RedisConfig) options() *redis.Options {
	return &redis.Options{
		Addr:            c.Addr,
		Password:        c.Password,
		DB:              c.DB,
		DialTimeout:     c.DialTimeout,
		ReadTimeout:     c.OpTimeout,
		WriteTimeout:    c.OpTimeout,
		PoolSize:        c.PoolSize,
		MinIdleConns:    c.MinIdleConns,
		PoolTimeout:     c.OpTimeout + c.DialTimeout,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// OpenRedis connects and PINGs once so a bad address fails at startup
// instead of on the first published notification.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.defaults()
	if cfg.Addr == "" {
		return nil, errors.New("redis: addr is required")
	}
	rdb := redis.NewClient(cfg.options())

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

var lockReleaseScript = redis.NewScript(`
-- KEYS[1] = lock key
-- ARGV[1] = owner token
--
-- Returns:
--  1 if the caller owned the lock and it was deleted
--  0 if the lock expired or belongs to someone else
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// AcquireLock takes a short-lived exclusive lock on key for token.
// It does not wait: false means someone else holds it.
//
// Safety properties:
// - SET NX PX is atomic.
// - TTL bounds how long a crashed holder can block others.
func AcquireLock(ctx context.Context, rdb *redis.Client, key, token string, ttl time.Duration) (bool, error) {
	if rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	if key == "" || token == "" {
		return false, fmt.Errorf("key and token are required")
	}
	if ttl <= 0 {
		return false, fmt.Errorf("ttl must be > 0")
	}
	return rdb.SetNX(ctx, key, token, ttl).Result()
}

// ReleaseLock deletes key only if it is still held by token, so a holder
// whose TTL lapsed cannot release a lock that was since taken by another.
func ReleaseLock(ctx context.Context, rdb *redis.Client, key, token string) (bool, error) {
	if rdb == nil {
		return false, fmt.Errorf("redis client is nil")
	}
	if key == "" || token == "" {
		return false, fmt.Errorf("key and token are required")
	}
	n, err := lockReleaseScript.Run(ctx, rdb, []string{key}, token).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
