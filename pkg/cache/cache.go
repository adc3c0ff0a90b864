// Package cache provides a bounded in-memory cache with per-entry TTL,
// LRU eviction, and an explicit stale-read mode for degraded operation.
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds cache configuration.
type Config struct {
	// Capacity is the maximum number of entries before LRU eviction.
	Capacity int
	// TTL is how long an entry is considered fresh.
	TTL time.Duration
	// MaxStale bounds how far past TTL GetStale will still serve an entry.
	MaxStale time.Duration
}

// DefaultConfig returns defaults suitable for upstream lookup caching.
func DefaultConfig() Config {
	return Config{
		Capacity: 1000,
		TTL:      time.Hour,
		MaxStale: 24 * time.Hour,
	}
}

type entry[V any] struct {
	key      string
	value    V
	inserted time.Time
	expires  time.Time
}

// Cache is a fixed-capacity key/value store with LRU eviction.
// Entries are stored by value and immutable once set; a racing overwrite
// is self-correcting on the next TTL cycle.
type Cache[V any] struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*list.Element // values are *entry[V]
	recency *list.List               // front = most recently used

	now func() time.Time

	hits      int64
	misses    int64
	staleHits int64
	evictions int64
}

// New creates a cache. Zero or negative config fields fall back to defaults.
func New[V any](cfg Config) *Cache[V] {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.MaxStale < cfg.TTL {
		cfg.MaxStale = cfg.TTL
	}
	return &Cache[V]{
		cfg:     cfg,
		entries: make(map[string]*list.Element, cfg.Capacity),
		recency: list.New(),
		now:     time.Now,
	}
}

// Get returns the value for key if it is still fresh (within TTL).
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return zero, false
	}

	e := el.Value.(*entry[V])
	if c.now().After(e.expires) {
		atomic.AddInt64(&c.misses, 1)
		return zero, false
	}

	c.recency.MoveToFront(el)
	atomic.AddInt64(&c.hits, 1)
	return e.value, true
}

// GetStale returns the value for key even past its TTL, together with the
// entry age, as long as the entry is younger than MaxStale. Used only in
// degraded mode when the live upstream is unavailable.
func (c *Cache[V]) GetStale(key string) (V, time.Duration, bool) {
	var zero V

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return zero, 0, false
	}

	e := el.Value.(*entry[V])
	age := c.now().Sub(e.inserted)
	if age > c.cfg.MaxStale {
		// Past the staleness window the entry is as good as gone.
		c.removeLocked(el)
		return zero, 0, false
	}

	c.recency.MoveToFront(el)
	atomic.AddInt64(&c.staleHits, 1)
	return e.value, age, true
}

// Set stores value under key, evicting the least recently used entry when
// the cache is at capacity.
func (c *Cache[V]) Set(key string, value V) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		e := el.Value.(*entry[V])
		e.value = value
		e.inserted = now
		e.expires = now.Add(c.cfg.TTL)
		c.recency.MoveToFront(el)
		return
	}

	if len(c.entries) >= c.cfg.Capacity {
		if oldest := c.recency.Back(); oldest != nil {
			c.removeLocked(oldest)
			atomic.AddInt64(&c.evictions, 1)
		}
	}

	e := &entry[V]{
		key:      key,
		value:    value,
		inserted: now,
		expires:  now.Add(c.cfg.TTL),
	}
	c.entries[key] = c.recency.PushFront(e)
}

// Len returns the current number of entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache[V]) removeLocked(el *list.Element) {
	e := el.Value.(*entry[V])
	delete(c.entries, e.key)
	c.recency.Remove(el)
}

// Stats reports cache performance counters.
type Stats struct {
	Entries   int
	Hits      int64
	Misses    int64
	StaleHits int64
	Evictions int64
}

// Stats returns current counters.
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Entries:   c.Len(),
		Hits:      atomic.LoadInt64(&c.hits),
		Misses:    atomic.LoadInt64(&c.misses),
		StaleHits: atomic.LoadInt64(&c.staleHits),
		Evictions: atomic.LoadInt64(&c.evictions),
	}
}
