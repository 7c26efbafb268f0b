package store

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultResultCacheSize is the bounded-FIFO result cache ceiling.
const DefaultResultCacheSize = 500

// resultCacheEvictBatch caps how many of the oldest entries one Put drops
// once the cache exceeds its ceiling; only the entries past the ceiling
// are dropped, so a single insert over capacity evicts one entry.
const resultCacheEvictBatch = 50

// ResultCache is a bounded cache for fused search results, keyed by a
// caller-computed string (query, k, vector_weight, preprocess_code).
//
// golang-lru/v2 is the storage substrate (same library the scanner uses
// for its gitignore-matcher cache) but its native eviction policy is
// recency-based LRU. Eviction here is FIFO instead, so insertion order
// is tracked separately and used to pick eviction
// victims; lru.Cache itself is used purely as a concurrent-safe map.
type ResultCache struct {
	mu       sync.Mutex
	cache    *lru.Cache[string, any]
	order    []string
	capacity int
}

// NewResultCache creates a result cache capped at capacity entries. A
// non-positive capacity falls back to DefaultResultCacheSize.
func NewResultCache(capacity int) (*ResultCache, error) {
	if capacity <= 0 {
		capacity = DefaultResultCacheSize
	}
	// golang-lru requires a positive size; give it generous headroom over
	// capacity since eviction here is driven by our own FIFO order, not
	// the library's recency tracking.
	backing, err := lru.New[string, any](capacity + resultCacheEvictBatch)
	if err != nil {
		return nil, err
	}
	return &ResultCache{cache: backing, capacity: capacity}, nil
}

// Get returns the cached value for key, if present.
func (c *ResultCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Get(key)
}

// Put inserts or replaces the cached value for key, evicting the oldest
// entries past the configured capacity (at most resultCacheEvictBatch).
func (c *ResultCache) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, existed := c.cache.Get(key); !existed {
		c.order = append(c.order, key)
	}
	c.cache.Add(key, value)

	if len(c.order) <= c.capacity {
		return
	}

	evict := len(c.order) - c.capacity
	if evict > resultCacheEvictBatch {
		evict = resultCacheEvictBatch
	}
	for _, victim := range c.order[:evict] {
		c.cache.Remove(victim)
	}
	c.order = c.order[evict:]
}

// Invalidate removes every cached entry. Callers do this on any write to
// the underlying chunk/symbol data, since a stale fused result is worse
// than a cache miss.
func (c *ResultCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Purge()
	c.order = nil
}

// Len returns the number of entries currently cached.
func (c *ResultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.Len()
}
