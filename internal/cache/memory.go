package cache

import (
	"context" // Context for cache operations
	"sync"    // Mutex and Once
	"time"    // TTL handling
)

// sweepInterval is how often the background sweep evicts expired entries.
const sweepInterval = 60 * time.Second

// memoryEntry is one stored value with its optional expiry.
type memoryEntry struct {
	value     string    // Stored value
	expiresAt time.Time // Zero means no expiry
}

// expired reports whether the entry is past its expiry at time now.
func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache is the in-process map-backed cache. A background sweep evicts
// expired entries every sweepInterval; Get additionally checks expiry lazily
// so an expired key reads as absent before the sweep runs.
type MemoryCache struct {
	mu        sync.RWMutex           // Guards entries
	entries   map[string]memoryEntry // Stored entries
	stop      chan struct{}          // Closed to stop the sweep goroutine
	closeOnce sync.Once              // Makes Close idempotent
}

// NewMemoryCache creates an in-process cache and starts its sweep goroutine.
func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{
		entries: make(map[string]memoryEntry),
		stop:    make(chan struct{}),
	}
	go c.sweep()
	return c
}

// sweep periodically drops expired entries until Close is called.
func (c *MemoryCache) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.mu.Lock()
			for key, entry := range c.entries {
				if entry.expired(now) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Get returns the value for key if present and not expired.
func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || entry.expired(time.Now()) {
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set stores value under key; ttl <= 0 means no expiry.
func (c *MemoryCache) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	if c.entries != nil {
		c.entries[key] = entry
	}
	c.mu.Unlock()
	return nil
}

// SetEx stores value under key with a mandatory TTL.
func (c *MemoryCache) SetEx(ctx context.Context, key string, ttl time.Duration, value string) error {
	return c.Set(ctx, key, value, ttl)
}

// Del removes key.
func (c *MemoryCache) Del(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

// DelMany removes all given keys.
func (c *MemoryCache) DelMany(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	c.mu.Unlock()
	return nil
}

// Close stops the sweep goroutine and drops all entries. Safe to call more
// than once.
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stop)
		c.mu.Lock()
		c.entries = nil
		c.mu.Unlock()
	})
	return nil
}
