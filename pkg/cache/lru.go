// Package cache provides an in-memory LRU cache with TTL for read-heavy,
// non-sensitive responses: mock asset payloads and the service method
// listing. Private payloads are never cached.
package cache

import (
	"sync"
	"time"
)

// entry holds a cached response with its expiration time and insertion order.
type entry struct {
	value       []byte
	contentType string
	expiresAt   time.Time
	insertedAt  time.Time
}

// LRUCache is a thread-safe in-memory cache with TTL and max-size eviction.
// When the cache reaches maxSize, the oldest entry (by insertion time) is
// evicted to make room. Expired entries are lazily evicted on Get.
type LRUCache struct {
	mu      sync.Mutex
	items   map[string]*entry
	maxSize int
	ttl     time.Duration
}

// NewLRUCache creates a cache with the given maximum size and TTL.
func NewLRUCache(maxSize int, ttl time.Duration) *LRUCache {
	if maxSize < 1 {
		maxSize = 1
	}
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &LRUCache{
		items:   make(map[string]*entry, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Get retrieves a cached response by key. Returns ok=false if the key is
// missing or expired. Expired entries are lazily deleted.
func (c *LRUCache) Get(key string) (value []byte, contentType string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.items[key]
	if !found {
		return nil, "", false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.items, key)
		return nil, "", false
	}
	return e.value, e.contentType, true
}

// Set stores a response. If the cache is at capacity, the oldest entry is
// evicted first.
func (c *LRUCache) Set(key string, value []byte, contentType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if _, exists := c.items[key]; !exists && len(c.items) >= c.maxSize {
		c.evictOldest()
	}
	c.items[key] = &entry{
		value:       value,
		contentType: contentType,
		expiresAt:   now.Add(c.ttl),
		insertedAt:  now,
	}
}

// Invalidate removes a specific key.
func (c *LRUCache) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// InvalidateAll removes every entry.
func (c *LRUCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry, c.maxSize)
}

// Size returns the number of entries currently held, including expired ones
// not yet lazily cleaned.
func (c *LRUCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// evictOldest removes the entry with the oldest insertedAt timestamp.
// Must be called with c.mu held.
func (c *LRUCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for k, e := range c.items {
		if first || e.insertedAt.Before(oldestTime) {
			oldestKey = k
			oldestTime = e.insertedAt
			first = false
		}
	}
	if !first {
		delete(c.items, oldestKey)
	}
}
