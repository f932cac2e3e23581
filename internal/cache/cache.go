package cache

import (
	"context" // Context for cache operations
	"time"    // TTL durations

	"github.com/sirupsen/logrus" // Logging library
)

// NoExpiry marks an entry that never expires.
const NoExpiry time.Duration = 0

// Cache is the uniform contract shared by the in-process and the Redis
// backends. The two are interchangeable at runtime by configuration; callers
// must treat the cache as advisory and always be safe falling through to the
// store when an operation errors.
type Cache interface {
	// Get returns the value for key, reporting whether it was present.
	// An expired key reads as absent even before any sweep has run.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value under key. A ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value string, ttl time.Duration) error
	// SetEx stores value under key with a mandatory TTL.
	SetEx(ctx context.Context, key string, ttl time.Duration, value string) error
	// Del removes key.
	Del(ctx context.Context, key string) error
	// DelMany removes all given keys.
	DelMany(ctx context.Context, keys ...string) error
	// Close releases backend resources. Idempotent; after Close all prior
	// keys read as absent.
	Close() error
}

// Options selects and configures a cache backend.
type Options struct {
	Backend   string // "memory" forces the in-process backend
	RedisAddr string // Redis server address; empty selects the in-process backend
	RedisPass string // Redis password
	RedisDB   int    // Redis database number
}

// New builds the configured cache backend. The Redis backend is used when an
// address is configured unless the backend override forces in-process.
func New(opts Options) Cache {
	if opts.RedisAddr != "" && opts.Backend != "memory" {
		return NewRedisCache(opts.RedisAddr, opts.RedisPass, opts.RedisDB)
	}
	logrus.Info("Using in-process cache backend")
	return NewMemoryCache()
}
