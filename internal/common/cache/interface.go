package cache

import (
	"context"
	"time"
)

// Cache is the subset of Redis behaviour the dispatcher relies on.
// Record, queue and aggregate repositories are written against it so tests
// can run them on an in-memory server.
type Cache interface {
	BasicOps
	HashOps
	ZSetOps
	ListOps
	ScriptOps
	PipelineOps

	// Ping verifies the cache connection is alive
	Ping(ctx context.Context) error

	// Close closes the cache connection
	Close() error
}

// BasicOps defines basic key-value operations
type BasicOps interface {
	// Get returns "" with a nil error when the key does not exist.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a key-value pair; ttl 0 means no expiry.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	Del(ctx context.Context, keys ...string) error

	// Exists returns the number of keys that exist.
	Exists(ctx context.Context, keys ...string) (int64, error)

	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// HashOps defines hash (map) operations
type HashOps interface {
	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HMSet(ctx context.Context, key string, fields map[string]interface{}) error
	HDel(ctx context.Context, key string, fields ...string) error
	HIncrBy(ctx context.Context, key, field string, incr int64) (int64, error)
}

// ZSetOps defines sorted set operations used by standings.
type ZSetOps interface {
	ZScore(ctx context.Context, key, member string) (float64, error)

	// ZRevRangeWithScores returns members with scores in descending order
	ZRevRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZMember, error)

	// ZRevRank returns -1 when the member is absent.
	ZRevRank(ctx context.Context, key, member string) (int64, error)
}

// ListOps defines list operations
type ListOps interface {
	// LPush prepends one or more values to a list
	LPush(ctx context.Context, key string, values ...interface{}) error

	// RPush appends one or more values to a list
	RPush(ctx context.Context, key string, values ...interface{}) error

	// LPop returns "" with a nil error on an empty list.
	LPop(ctx context.Context, key string) (string, error)

	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)
}

// ScriptOps runs server-side Lua so multi-key read-modify-write stays atomic.
type ScriptOps interface {
	// Eval runs script, loading it on first use.
	// A nil script reply is returned as (nil, nil).
	Eval(ctx context.Context, script *Script, keys []string, args ...interface{}) (interface{}, error)
}

// PipelineOps defines transactional batches.
type PipelineOps interface {
	// TxPipeline queues the commands issued by fn and executes them in one MULTI/EXEC.
	TxPipeline(ctx context.Context, fn func(pipe Pipeliner) error) error
}

// Pipeliner queues write commands inside a transaction.
type Pipeliner interface {
	Del(keys ...string)
	HMSet(key string, fields map[string]interface{})
	HDel(key string, fields ...string)
	RPush(key string, values ...interface{})
	LPush(key string, values ...interface{})
	Expire(key string, ttl time.Duration)
}

// ZMember represents a member in a sorted set with its score
type ZMember struct {
	Score  float64
	Member string
}
