package resilience

import (
	"sync"
	"time"
)

// cleanupInterval is how many Puts elapse between full expiry sweeps.
// There is no background sweep goroutine; pruning happens lazily on Get and
// periodically on Put.
const cleanupInterval = 64

type cacheEntry[V any] struct {
	value      V
	insertedAt time.Time
}

// Cache is a concurrency-safe key/value store with a single TTL per cache.
// Entries older than the TTL read as misses and are removed on access.
type Cache[K comparable, V any] struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[K]cacheEntry[V]
	puts    int
}

// NewCache creates a cache whose entries expire ttl after insertion.
func NewCache[K comparable, V any](ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		ttl:     ttl,
		entries: make(map[K]cacheEntry[V]),
	}
}

// Get returns the cached value for key, or a miss if absent or expired.
// Expired entries are removed.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	if time.Since(e.insertedAt) >= c.ttl {
		delete(c.entries, key)
		return zero, false
	}
	return e.value, true
}

// Put stores value under key, resetting its insertion time.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry[V]{value: value, insertedAt: time.Now()}
	c.puts++
	if c.puts%cleanupInterval == 0 {
		c.cleanupLocked()
	}
}

// Invalidate removes key regardless of age.
func (c *Cache[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the number of entries currently held, including not-yet-pruned
// expired ones.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[K, V]) cleanupLocked() {
	cutoff := time.Now().Add(-c.ttl)
	for k, e := range c.entries {
		if !e.insertedAt.After(cutoff) {
			delete(c.entries, k)
		}
	}
}
