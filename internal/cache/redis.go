package cache

import (
	"context"     // Context for Redis operations
	"sync"        // Once for Close
	"sync/atomic" // Connectivity state flag
	"time"        // TTL durations

	"github.com/redis/go-redis/v9" // Redis client
	"github.com/sirupsen/logrus"   // Logging library
)

// RedisCache is the networked backend. The connection is established lazily
// by the client on first use, so construction never fails on an unreachable
// server; errors surface from the first operation instead. Connectivity
// transitions are logged once per transition, not per failed call.
type RedisCache struct {
	client    *redis.Client // Underlying Redis client
	addr      string        // Server address, for log context
	down      atomic.Bool   // Last observed connectivity state
	closeOnce sync.Once     // Makes Close idempotent
	closeErr  error         // Result of the first Close
}

// NewRedisCache creates a Redis-backed cache for the given server.
func NewRedisCache(addr, password string, db int) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,     // Redis server address
		Password: password, // Redis password
		DB:       db,       // Redis database number
	})
	logrus.WithField("addr", addr).Info("Using Redis cache backend")
	return &RedisCache{client: client, addr: addr}
}

// observe tracks connectivity and logs up/down transitions.
func (c *RedisCache) observe(err error) {
	if err != nil && err != redis.Nil {
		if c.down.CompareAndSwap(false, true) {
			logrus.WithFields(logrus.Fields{
				"addr":  c.addr,
				"error": err.Error(),
			}).Warn("Redis cache unreachable")
		}
		return
	}
	if c.down.CompareAndSwap(true, false) {
		logrus.WithField("addr", c.addr).Info("Redis cache connection restored")
	}
}

// Get returns the value for key if present. Expiry is enforced server-side,
// so an expired key reads as absent.
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	c.observe(err)
	if err == redis.Nil {
		return "", false, nil // Key does not exist
	} else if err != nil {
		return "", false, err // Other Redis error
	}
	return val, true, nil
}

// Set stores value under key; ttl <= 0 means no expiry.
func (c *RedisCache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0 // Redis treats 0 as no expiry
	}
	err := c.client.Set(ctx, key, value, ttl).Err()
	c.observe(err)
	return err
}

// SetEx stores value under key with a mandatory TTL.
func (c *RedisCache) SetEx(ctx context.Context, key string, ttl time.Duration, value string) error {
	err := c.client.SetEx(ctx, key, value, ttl).Err()
	c.observe(err)
	return err
}

// Del removes key.
func (c *RedisCache) Del(ctx context.Context, key string) error {
	err := c.client.Del(ctx, key).Err()
	c.observe(err)
	return err
}

// DelMany removes all given keys in one round trip.
func (c *RedisCache) DelMany(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	err := c.client.Del(ctx, keys...).Err()
	c.observe(err)
	return err
}

// Close closes the client connection. Safe to call more than once.
func (c *RedisCache) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.client.Close()
	})
	return c.closeErr
}
