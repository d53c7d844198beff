// Package ttlcache provides a mutex-guarded TTL cache with a bounded entry
// count. Eviction is batched (oldest entries first) and sweeps are throttled
// so the hot lookup path stays O(1).
package ttlcache

import (
	"sort"
	"sync"
	"time"
)

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Options configures a Cache.
type Options struct {
	// TTL is how long an entry stays valid after it was last stored or touched.
	TTL time.Duration
	// MaxEntries is the hard ceiling on stored entries. Zero means unbounded.
	MaxEntries int
	// EvictFraction is the share of MaxEntries evicted (oldest first) when the
	// cache is over capacity. Defaults to 0.1.
	EvictFraction float64
	// SweepInterval throttles expiry cleanup: Set triggers a sweep at most once
	// per interval. Defaults to 5 minutes.
	SweepInterval time.Duration
}

// Cache is a TTL cache keyed by string.
type Cache[V any] struct {
	mu        sync.Mutex
	entries   map[string]*entry[V]
	opts      Options
	lastSweep time.Time
	now       func() time.Time
}

func New[V any](opts Options) *Cache[V] {
	if opts.EvictFraction <= 0 || opts.EvictFraction > 1 {
		opts.EvictFraction = 0.1
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 5 * time.Minute
	}
	return &Cache[V]{
		entries: make(map[string]*entry[V]),
		opts:    opts,
		now:     time.Now,
	}
}

// Get returns the cached value if present and not expired. Expired entries are
// removed lazily on access.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.opts.TTL > 0 && c.now().Sub(e.storedAt) > c.opts.TTL {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores a value, refreshing its age. An over-capacity cache evicts the
// oldest batch; expired entries are swept at most once per sweep interval.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = &entry[V]{value: value, storedAt: c.now()}
	c.maybeSweepLocked()
	c.enforceCapacityLocked()
}

// Touch refreshes the age of an existing entry.
func (c *Cache[V]) Touch(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.storedAt = c.now()
	}
}

// Delete removes an entry.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Len returns the current entry count, including not-yet-swept expired entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes all expired entries immediately, ignoring the throttle.
func (c *Cache[V]) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sweepLocked()
	c.lastSweep = c.now()
}

func (c *Cache[V]) maybeSweepLocked() {
	now := c.now()
	if now.Sub(c.lastSweep) < c.opts.SweepInterval {
		return
	}
	c.lastSweep = now
	c.sweepLocked()
}

func (c *Cache[V]) sweepLocked() {
	if c.opts.TTL <= 0 {
		return
	}
	now := c.now()
	for key, e := range c.entries {
		if now.Sub(e.storedAt) > c.opts.TTL {
			delete(c.entries, key)
		}
	}
}

func (c *Cache[V]) enforceCapacityLocked() {
	if c.opts.MaxEntries <= 0 || len(c.entries) <= c.opts.MaxEntries {
		return
	}

	batch := int(float64(c.opts.MaxEntries) * c.opts.EvictFraction)
	if batch < 1 {
		batch = 1
	}
	over := len(c.entries) - c.opts.MaxEntries
	if over > batch {
		batch = over
	}

	type aged struct {
		key      string
		storedAt time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for key, e := range c.entries {
		all = append(all, aged{key: key, storedAt: e.storedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].storedAt.Before(all[j].storedAt) })

	for i := 0; i < batch && i < len(all); i++ {
		delete(c.entries, all[i].key)
	}
}
