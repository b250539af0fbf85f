// Package cache provides TTL caches for small reference data.
// InMemory is process-local; Redis shares entries across instances.
package cache

import (
	"sync"
	"time"
)

// Entry is a cached value with the time it was loaded.
type Entry[T any] struct {
	Value    T         `json:"value"`
	LoadedAt time.Time `json:"loadedAt"`
}

// InMemory is a thread-safe in-memory cache with TTL.
// Expired entries are kept so callers can fall back to the last known value;
// they are only replaced by Set or removed by Delete.
type InMemory[T any] struct {
	mu    sync.RWMutex
	items map[string]Entry[T]
	ttl   time.Duration
	now   func() time.Time
}

// New creates a new in-memory cache with the given TTL.
func New[T any](ttl time.Duration) *InMemory[T] {
	return &InMemory[T]{
		items: make(map[string]Entry[T]),
		ttl:   ttl,
		now:   time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (c *InMemory[T]) WithClock(now func() time.Time) *InMemory[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
	return c
}

// TTL returns the freshness window.
func (c *InMemory[T]) TTL() time.Duration {
	return c.ttl
}

// Get retrieves a value from the cache. Returns false if not found or expired.
func (c *InMemory[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.items[key]
	if !ok || c.expired(e) {
		var zero T
		return zero, false
	}
	return e.Value, true
}

// Peek returns the entry for key regardless of its age, and whether it is
// still fresh.
func (c *InMemory[T]) Peek(key string) (e Entry[T], fresh bool, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok = c.items[key]
	if !ok {
		return e, false, false
	}
	return e, !c.expired(e), true
}

// Set stores a value in the cache stamped with the current time.
func (c *InMemory[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = Entry[T]{Value: value, LoadedAt: c.now()}
}

// SetEntry stores an entry keeping its original load time.
func (c *InMemory[T]) SetEntry(key string, e Entry[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = e
}

// Delete removes a value from the cache.
func (c *InMemory[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
}

func (c *InMemory[T]) expired(e Entry[T]) bool {
	return c.now().Sub(e.LoadedAt) >= c.ttl
}
