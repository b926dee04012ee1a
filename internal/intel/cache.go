package intel

import (
	"sync"
	"sync/atomic"
	"time"
)

// snapshot is an immutable view of the indicator cache, keyed by type
// then value. Readers load it atomically; the refresher builds a new
// one and swaps it in.
type snapshot struct {
	byType  map[IOCType]map[string]*IOC
	count   int
	builtAt time.Time
}

// Cache holds the active indicator set. Lookups are lock-free;
// updates rebuild the snapshot per source so one feed going bad never
// clears another feed's indicators.
type Cache struct {
	snap atomic.Pointer[snapshot]

	// bySource retains the last good indicator set per feed for
	// rebuilds. Guarded by mu; only the refresher writes here.
	mu       sync.Mutex
	bySource map[string][]*IOC

	lookups atomic.Int64
	hits    atomic.Int64
}

// NewCache creates an empty indicator cache.
func NewCache() *Cache {
	c := &Cache{bySource: make(map[string][]*IOC)}
	c.snap.Store(&snapshot{byType: make(map[IOCType]map[string]*IOC), builtAt: time.Now()})
	return c
}

// Lookup returns the indicator matching a type and value, excluding
// expired entries. Expired indicators are treated as absent even
// before the next purge.
func (c *Cache) Lookup(t IOCType, value string) (*IOC, bool) {
	c.lookups.Add(1)

	snap := c.snap.Load()
	ioc, ok := snap.byType[t][value]
	if !ok || ioc.Expired(time.Now()) {
		return nil, false
	}

	c.hits.Add(1)
	return ioc, true
}

// UpdateSource replaces one feed's indicators and rebuilds the
// snapshot. Invalid or already-expired indicators are dropped.
func (c *Cache) UpdateSource(source string, iocs []*IOC) {
	now := time.Now()
	kept := make([]*IOC, 0, len(iocs))
	for _, ioc := range iocs {
		if err := ioc.Validate(); err != nil {
			continue
		}
		if ioc.Expired(now) {
			continue
		}
		kept = append(kept, ioc)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.bySource[source] = kept
	c.rebuildLocked()
}

// Purge drops expired indicators from every source and rebuilds.
func (c *Cache) Purge() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for source, iocs := range c.bySource {
		kept := iocs[:0]
		for _, ioc := range iocs {
			if ioc.Expired(now) {
				removed++
				continue
			}
			kept = append(kept, ioc)
		}
		c.bySource[source] = kept
	}
	if removed > 0 {
		c.rebuildLocked()
	}
	return removed
}

func (c *Cache) rebuildLocked() {
	snap := &snapshot{
		byType:  make(map[IOCType]map[string]*IOC),
		builtAt: time.Now(),
	}
	for _, iocs := range c.bySource {
		for _, ioc := range iocs {
			m := snap.byType[ioc.Type]
			if m == nil {
				m = make(map[string]*IOC)
				snap.byType[ioc.Type] = m
			}
			// Highest weighted confidence wins when feeds overlap.
			if existing, ok := m[ioc.Value]; ok && existing.Weighted() >= ioc.Weighted() {
				continue
			}
			m[ioc.Value] = ioc
		}
	}
	for _, m := range snap.byType {
		snap.count += len(m)
	}
	c.snap.Store(snap)
}

// Stats reports cache size and lookup counters.
func (c *Cache) Stats() (count int, lookups, hits int64) {
	return c.snap.Load().count, c.lookups.Load(), c.hits.Load()
}

// Size returns the number of indicators in the active snapshot.
func (c *Cache) Size() int {
	return c.snap.Load().count
}

// BuiltAt returns when the active snapshot was assembled. Serves as a
// staleness signal when feeds have been failing.
func (c *Cache) BuiltAt() time.Time {
	return c.snap.Load().builtAt
}
