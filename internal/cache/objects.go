// Package cache provides the in-memory object cache that sits in front of
// a bucket's persistent store.
package cache

import (
	"sync/atomic"

	"github.com/bucketdb/bucketdb/pkg/types"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCapacity is the number of documents retained per bucket.
const DefaultCapacity = 32

// Metrics holds cache statistics for observability.
type Metrics struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Evictions atomic.Int64
}

// ObjectCache is a bounded LRU map from key to document. Get refreshes
// recency; inserting beyond capacity evicts the least recently used key.
type ObjectCache struct {
	lru     *lru.Cache[string, *types.Document]
	metrics Metrics
}

// NewObjectCache creates a cache holding up to capacity documents. A
// non-positive capacity selects DefaultCapacity.
func NewObjectCache(capacity int) *ObjectCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &ObjectCache{}
	// lru.New only fails on a non-positive size
	c.lru, _ = lru.NewWithEvict[string, *types.Document](capacity, func(string, *types.Document) {
		c.metrics.Evictions.Add(1)
	})
	return c
}

// Get returns a copy of the cached document for key.
func (c *ObjectCache) Get(key string) (*types.Document, bool) {
	doc, ok := c.lru.Get(key)
	if !ok {
		c.metrics.Misses.Add(1)
		return nil, false
	}
	c.metrics.Hits.Add(1)
	return types.NewDocument(doc.Key, doc.Data), true
}

// Put caches a copy of doc under key.
func (c *ObjectCache) Put(key string, doc *types.Document) {
	if doc == nil {
		return
	}
	c.lru.Add(key, types.NewDocument(doc.Key, doc.Data))
}

// Remove drops key from the cache.
func (c *ObjectCache) Remove(key string) {
	c.lru.Remove(key)
}

// Len returns the number of cached documents.
func (c *ObjectCache) Len() int {
	return c.lru.Len()
}

// Purge empties the cache. Purged entries count as evictions.
func (c *ObjectCache) Purge() {
	c.lru.Purge()
}

// Metrics returns the current cache statistics.
func (c *ObjectCache) Metrics() (hits, misses, evictions int64) {
	return c.metrics.Hits.Load(), c.metrics.Misses.Load(), c.metrics.Evictions.Load()
}

// HitRate returns the cache hit rate (0.0 to 1.0).
func (c *ObjectCache) HitRate() float64 {
	hits := c.metrics.Hits.Load()
	total := hits + c.metrics.Misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}
