package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is the key-value surface shared by the queue, the daemon registry and
// the cached problem reads.
type Cache interface {
	BasicOps
	HashOps
	SetOps
	ZSetOps
	ScriptOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get returns "" without error for a missing key.
	Get(ctx context.Context, key string) (string, error)

	// MGet returns one entry per key; missing keys yield "".
	MGet(ctx context.Context, keys ...string) ([]string, error)

	// Set stores a value; a zero ttl keeps the key forever.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	Del(ctx context.Context, keys ...string) error

	Expire(ctx context.Context, key string, ttl time.Duration) error

	Incr(ctx context.Context, key string) (int64, error)
}

// HashOps defines hash operations
type HashOps interface {
	// HGet returns "" without error for a missing field.
	HGet(ctx context.Context, key, field string) (string, error)
}

// ZSetOps defines sorted set operations
type ZSetOps interface {
	ZCard(ctx context.Context, key string) (int64, error)
}

// SetOps defines set operations
type SetOps interface {
	SAdd(ctx context.Context, key string, members ...interface{}) error
	SRem(ctx context.Context, key string, members ...interface{}) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key string, member interface{}) (bool, error)
}

// ScriptOps runs server-side Lua scripts atomically.
type ScriptOps interface {
	// RunScript executes script by sha and loads it on a cache miss. A nil
	// reply is returned as (nil, nil).
	RunScript(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error)
}
