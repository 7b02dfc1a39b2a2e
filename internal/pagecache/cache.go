// Package pagecache keeps recently read pages in memory in front of the store.
package pagecache

import (
	"sync"

	"github.com/golang/groupcache/lru"
)

// Cache is a fixed-capacity LRU cache safe for concurrent use. When full, the
// least recently used entry is evicted.
type Cache[K comparable, V any] struct {
	mu    sync.Mutex
	inner *lru.Cache
}

// New returns a cache holding at most capacity entries. A capacity below 1
// is treated as 1.
func New[K comparable, V any](capacity int) *Cache[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache[K, V]{inner: lru.New(capacity)}
}

// Get returns the cached value and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.inner.Get(key)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// Put stores value under key, evicting the eldest entry on overflow.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Add(key, value)
}

// Remove drops key if present.
func (c *Cache[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Remove(key)
}

// Clear drops every entry.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inner.Clear()
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inner.Len()
}
