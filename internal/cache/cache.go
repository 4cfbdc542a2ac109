package cache

import "sync"

// Cache is a generic thread-safe memoizing cache.
// Entries are never evicted; a failed create leaves the key absent so a
// later call may try again.
//
// Cache is safe for concurrent use.
// Cache must not be copied after creation (has mutex).
type Cache[K comparable, V any] struct {
	mu      sync.Mutex
	entries map[K]V

	builds uint64
	hits   uint64
}

// New creates an empty cache.
func New[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{
		entries: make(map[K]V),
	}
}

// Get retrieves a value from the cache.
// Returns (value, true) if found, (zero, false) otherwise.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.entries[key]
	if ok {
		c.hits++
	}
	return v, ok
}

// GetOrCreate returns the cached value for key or builds it with create.
// Thread-safe: create is called under lock to prevent duplicate creation.
// If create fails the error is returned and nothing is stored.
func (c *Cache[K, V]) GetOrCreate(key K, create func() (V, error)) (V, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.entries[key]; ok {
		c.hits++
		return v, nil
	}

	v, err := create()
	if err != nil {
		var zero V
		return zero, err
	}
	c.builds++
	c.entries[key] = v
	return v, nil
}

// Range calls fn for every cached entry. Iteration order is unspecified.
// fn must not call back into the cache.
func (c *Cache[K, V]) Range(fn func(key K, value V)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range c.entries {
		fn(k, v)
	}
}

// Clear removes all entries. Build and hit counters are kept.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[K]V)
}

// Len returns the number of entries in the cache.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.entries)
}

// Stats returns cache statistics.
func (c *Cache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Len:    len(c.entries),
		Builds: c.builds,
		Hits:   c.hits,
	}
}

// Stats contains cache statistics.
type Stats struct {
	// Len is the current number of entries.
	Len int
	// Builds is the number of successful create calls.
	Builds uint64
	// Hits is the number of lookups served from the cache.
	Hits uint64
}
