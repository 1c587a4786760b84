package migration

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultVersionTTL bounds how stale a cached version may be.
const DefaultVersionTTL = time.Minute

type cacheEntry struct {
	value     int
	fetchedAt time.Time
}

// versionCache is a per-process read-through cache of plugin versions.
// Entries expire after ttl and are refetched synchronously on the next
// lookup. Concurrent misses for the same plugin share one load.
type versionCache struct {
	ttl time.Duration
	now func() time.Time

	mu         sync.Mutex
	entries    map[string]cacheEntry
	generation uint64

	group singleflight.Group
}

func newVersionCache(ttl time.Duration, now func() time.Time) *versionCache {
	return &versionCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]cacheEntry),
	}
}

type loadFunc func(ctx context.Context, plugin string) (int, error)

// get returns the cached version of plugin, loading it when absent or
// expired. The second result reports a cache hit.
func (c *versionCache) get(ctx context.Context, plugin string, load loadFunc) (int, bool, error) {
	c.mu.Lock()
	entry, ok := c.entries[plugin]
	generation := c.generation
	if ok && c.ttl > 0 && c.now().Sub(entry.fetchedAt) < c.ttl {
		c.mu.Unlock()
		return entry.value, true, nil
	}
	c.mu.Unlock()

	// Loads started before an invalidation must not be joined by, or stored
	// for, lookups made after it.
	key := strconv.FormatUint(generation, 10) + "/" + plugin
	// The shared load outlives any single caller, so one caller cancelling
	// must not fail the others.
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := c.group.Do(key, func() (any, error) {
		value, err := load(loadCtx, plugin)
		if err != nil {
			return 0, err
		}

		c.mu.Lock()
		if c.generation == generation && c.ttl > 0 {
			c.entries[plugin] = cacheEntry{value: value, fetchedAt: c.now()}
		}
		c.mu.Unlock()

		return value, nil
	})
	if err != nil {
		return 0, false, err
	}
	return v.(int), false, nil
}

// invalidateAll drops every entry so the next lookup per plugin reads the
// store again.
func (c *versionCache) invalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
	c.generation++
}
