// Package cache provides a small expiring key-value cache used for per-user
// bot configuration and per-ticket message history. Expiry is checked on read
// rather than with timers, so early invalidation never leaks a pending timer.
package cache

import (
	"sync"
	"time"
)

// DefaultTTL is how long config and history entries stay valid.
const DefaultTTL = 5 * time.Minute

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a TTL cache scoped by string key (user id, or user id + ticket id).
type Cache[V any] struct {
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[string]entry[V]
}

// New creates a cache with the given TTL; ttl <= 0 falls back to DefaultTTL.
func New[V any](ttl time.Duration) *Cache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[V]{
		ttl:     ttl,
		entries: make(map[string]entry[V]),
	}
}

// Get returns the cached value if present and not expired.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		var zero V
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		c.mu.Lock()
		// Re-check under write lock: a Set may have refreshed the entry
		if cur, ok := c.entries[key]; ok && time.Now().After(cur.expiresAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores a value, resetting its expiry.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expiresAt: time.Now().Add(c.ttl)}
}

// Invalidate removes a key immediately (write-through invalidation).
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len reports the number of stored entries, expired or not.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
