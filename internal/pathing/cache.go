package pathing

import (
	"sync"
	"time"

	"github.com/signalsfoundry/fabric-controller/model"
)

const defaultPathCacheTTL = 30 * time.Second

type pairKey struct {
	src, dst model.SwitchID
}

type pathEntry struct {
	paths   []RankedPath
	updated time.Time
}

// Cache holds resolved path sets for one graph version. Storing a result for
// a newer version drops everything older.
type Cache struct {
	mu       sync.RWMutex
	version  uint64
	entries  map[pairKey]pathEntry
	ttl      time.Duration
	now      func() time.Time
	hits     int64
	misses   int64
	invalids int64
}

// NewCache creates a cache with the provided TTL; zero uses a default.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultPathCacheTTL
	}
	return &Cache{
		entries: make(map[pairKey]pathEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the paths for (src, dst) if they were computed at version.
func (c *Cache) Get(src, dst model.SwitchID, version uint64) ([]RankedPath, bool) {
	if c == nil {
		return nil, false
	}
	c.mu.RLock()
	entry, ok := c.entries[pairKey{src, dst}]
	current := c.version
	c.mu.RUnlock()

	if !ok || current != version || c.now().Sub(entry.updated) > c.ttl {
		c.record(&c.misses)
		return nil, false
	}
	c.record(&c.hits)
	return cloneRanked(entry.paths), true
}

// Put stores paths computed at version. Results for an older version than
// the cache holds are discarded.
func (c *Cache) Put(src, dst model.SwitchID, version uint64, paths []RankedPath) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case version < c.version:
		return
	case version > c.version:
		if len(c.entries) > 0 {
			c.invalids++
		}
		c.entries = make(map[pairKey]pathEntry)
		c.version = version
	}
	c.entries[pairKey{src, dst}] = pathEntry{paths: cloneRanked(paths), updated: c.now()}
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.entries = make(map[pairKey]pathEntry)
	c.invalids++
	c.mu.Unlock()
}

// Stats returns hit, miss and invalidation counts.
func (c *Cache) Stats() (hits, misses, invalids int64) {
	if c == nil {
		return 0, 0, 0
	}
	c.mu.RLock()
	hits, misses, invalids = c.hits, c.misses, c.invalids
	c.mu.RUnlock()
	return
}

// HitRatio is hits / (hits + misses), or 0 before any lookup.
func (c *Cache) HitRatio() float64 {
	hits, misses, _ := c.Stats()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

func (c *Cache) record(counter *int64) {
	c.mu.Lock()
	*counter++
	c.mu.Unlock()
}

func cloneRanked(src []RankedPath) []RankedPath {
	if src == nil {
		return nil
	}
	out := make([]RankedPath, len(src))
	for i, rp := range src {
		out[i] = RankedPath{Path: append(Path(nil), rp.Path...), Cost: rp.Cost}
	}
	return out
}
