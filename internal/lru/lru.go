// Package lru provides a fixed-size, string-keyed least-recently-used cache.
package lru

import (
	"errors"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DefaultCapacity is the size used by NewDefault.
const DefaultCapacity = 20

// ErrInvalidCapacity is returned when a cache is built with a non-positive size.
var ErrInvalidCapacity = errors.New("lru: capacity must be positive")

// EvictCallback is called with every entry removed to make room for another.
type EvictCallback[V any] func(key string, value V)

// Cache is a fixed size LRU cache. It is safe for concurrent use.
//
// Entries live in an insertion-ordered map: the oldest pair is the least
// recently used one, and every hit or write moves its pair to the back.
type Cache[V any] struct {
	mu       sync.Mutex
	capacity int
	items    *orderedmap.OrderedMap[string, V]
	onEvict  EvictCallback[V]
}

// New creates a cache holding at most capacity entries.
func New[V any](capacity int) (*Cache[V], error) {
	return NewWithEvict[V](capacity, nil)
}

// NewWithEvict is like New but reports evicted entries to onEvict.
func NewWithEvict[V any](capacity int, onEvict EvictCallback[V]) (*Cache[V], error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &Cache[V]{
		capacity: capacity,
		items:    orderedmap.New[string, V](),
		onEvict:  onEvict,
	}, nil
}

// NewDefault creates a cache of DefaultCapacity entries.
func NewDefault[V any]() *Cache[V] {
	c, _ := New[V](DefaultCapacity)
	return c
}

// Get looks up key and marks it most recently used. A miss leaves the cache untouched.
func (c *Cache[V]) Get(key string) (value V, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, ok = c.items.Get(key)
	if ok {
		_ = c.items.MoveToBack(key)
	}
	return value, ok
}

// Put stores value under key as the most recently used entry. Writing an
// existing key updates it in place; otherwise, when the cache is full, the
// least recently used entry is evicted first. Returns true if an eviction occurred.
func (c *Cache[V]) Put(key string, value V) (evicted bool) {
	var (
		oldKey string
		oldVal V
	)
	c.mu.Lock()
	if _, present := c.items.Set(key, value); present {
		_ = c.items.MoveToBack(key)
		c.mu.Unlock()
		return false
	}
	if c.items.Len() > c.capacity {
		oldest := c.items.Oldest()
		oldKey, oldVal = oldest.Key, oldest.Value
		c.items.Delete(oldKey)
		evicted = true
	}
	c.mu.Unlock()

	// callback runs outside the critical section so it may use the cache
	if evicted && c.onEvict != nil {
		c.onEvict(oldKey, oldVal)
	}
	return evicted
}

// Len returns the number of entries in the cache.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.items.Len()
}

// Cap returns the maximum number of entries.
func (c *Cache[V]) Cap() int { return c.capacity }

// Keys returns the keys from least to most recently used, without touching recency.
func (c *Cache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, c.items.Len())
	for p := c.items.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	return keys
}
