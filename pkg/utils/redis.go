package utils

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig controls redis client behavior.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	PoolSize        int
	MinIdleConns    int
	PoolTimeout     time.Duration
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration

	PingTimeout time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 10
	}
	if out.MinIdleConns < 0 {
		out.MinIdleConns = 0
	}
	if out.PoolTimeout <= 0 {
		out.PoolTimeout = 4 * time.Second
	}
	if out.ConnMaxIdleTime <= 0 {
		out.ConnMaxIdleTime = 5 * time.Minute
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = 30 * time.Minute
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a Redis client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:            cfg.Addr,
		Password:        cfg.Password,
		DB:              cfg.DB,
		DialTimeout:     cfg.DialTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PoolSize:        cfg.PoolSize,
		MinIdleConns:    cfg.MinIdleConns,
		PoolTimeout:     cfg.PoolTimeout,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

var lockReleaseScript = redis.NewScript(`
-- KEYS[1] = lock key
-- ARGV[1] = owner token
-- Deletes the key only if it is still held by the caller.
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// ErrLockTimeout is returned when a key lock could not be acquired before the wait budget ran out.
var ErrLockTimeout = errors.New("lock wait timeout")

// KeyLockConfig tunes KeyLock.
type KeyLockConfig struct {
	// Prefix namespaces all lock keys.
	Prefix string
	// TTL bounds how long a crashed holder can keep a key locked.
	TTL time.Duration
	// Wait is the maximum time Lock blocks before giving up.
	Wait time.Duration
	// Retry is the polling interval while the key is held elsewhere.
	Retry time.Duration
}

func (c KeyLockConfig) withDefaults() KeyLockConfig {
	out := c
	if out.Prefix == "" {
		out.Prefix = "relay:lock:"
	}
	if out.TTL <= 0 {
		out.TTL = 30 * time.Second
	}
	if out.Wait <= 0 {
		out.Wait = 10 * time.Second
	}
	if out.Retry <= 0 {
		out.Retry = 50 * time.Millisecond
	}
	return out
}

// KeyLock is a per-key mutual exclusion section backed by Redis.
//
// Safety properties:
// - Acquire is a single SET NX PX.
// - Release is token-checked in Lua, so an expired holder never deletes a successor's lock.
// - TTL prevents leaked locks on process crash.
type KeyLock struct {
	rdb *redis.Client
	cfg KeyLockConfig
}

func NewKeyLock(rdb *redis.Client, cfg KeyLockConfig) *KeyLock {
	return &KeyLock{rdb: rdb, cfg: cfg.withDefaults()}
}

// Lock blocks until key is acquired, ctx is done, or the wait budget is spent.
// The returned func releases the lock; it is safe to call once.
func (l *KeyLock) Lock(ctx context.Context, key string) (func(), error) {
	if l == nil || l.rdb == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}

	full := l.cfg.Prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.cfg.Wait)

	for {
		ok, err := l.rdb.SetNX(ctx, full, token, l.cfg.TTL).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return func() {
				// Released on a fresh context: the request context may already be canceled.
				relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = lockReleaseScript.Run(relCtx, l.rdb, []string{full}, token).Err()
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s", ErrLockTimeout, key)
		}

		t := time.NewTimer(l.cfg.Retry)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}
