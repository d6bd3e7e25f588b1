// ABOUTME: Thread-safe fixed-capacity LRU cache for recently seen entities.
// ABOUTME: Used for message retention so update/delete events can resolve prior state.

package cache

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultMessageCapacity is the default bound for the message cache.
const DefaultMessageCapacity = 1000

// LRU maps keys to their last-known value and never holds more than its
// capacity. Put moves a key to most-recently-used; Get does not, so repeated
// "before" lookups don't extend retention. Touch is the reading variant that
// does update recency.
//
// The underlying simplelru.LRU is not goroutine-safe; mu also makes Pop
// (peek then remove) atomic.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[K, V]
	capacity int
	onEvict  func(K, V)
	popping  bool
}

// NewLRU creates a cache bounded to capacity entries. A capacity below one
// is treated as one.
func NewLRU[K comparable, V any](capacity int) *LRU[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	c := &LRU[K, V]{capacity: capacity}
	// Only fails for a non-positive size.
	c.lru, _ = simplelru.NewLRU[K, V](capacity, c.evicted)
	return c
}

// OnEvict registers a callback invoked (with the lock held) for every entry
// dropped due to capacity. Must be set before the cache is shared.
func (c *LRU[K, V]) OnEvict(fn func(K, V)) {
	c.onEvict = fn
}

// evicted receives simplelru's callbacks, which also fire on Remove.
func (c *LRU[K, V]) evicted(key K, value V) {
	if c.popping || c.onEvict == nil {
		return
	}
	c.onEvict(key, value)
}

// Put inserts or replaces key and marks it most recently used. If the cache
// is over capacity afterwards, the least recently used entry is evicted.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, value)
}

// Get returns the cached value without changing recency.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Peek(key)
}

// Touch returns the cached value and marks it most recently used.
func (c *LRU[K, V]) Touch(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Get(key)
}

// Pop removes key and returns its value if present.
func (c *LRU[K, V]) Pop(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.lru.Peek(key)
	if !ok {
		return v, false
	}
	c.popping = true
	c.lru.Remove(key)
	c.popping = false
	return v, true
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Capacity returns the configured bound.
func (c *LRU[K, V]) Capacity() int {
	return c.capacity
}

// keys returns the cached keys from least to most recently used.
func (c *LRU[K, V]) keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}
