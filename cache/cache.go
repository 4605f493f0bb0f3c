// Package cache implements the Tier Cache (spec.md §4.B): a bounded,
// TTL-aware, advisory-only cache in front of the Vector Gateway. It is
// built on github.com/dgraph-io/ristretto, the cost-aware admission
// cache the teacher's go.mod already carried but never wired up.
package cache

import (
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/nimtier/tiermem/ids"
	"github.com/nimtier/tiermem/model"
	"github.com/nimtier/tiermem/tier"
)

// Settings configures one tier's cache instance (spec.md §4.B: "each
// tier owns an independently sized and TTL'd cache region").
type Settings struct {
	Capacity int
	TTL      time.Duration
}

// entryCost approximates the memory footprint of a cached Memory for
// ristretto's cost-based eviction (bytes of content plus embedding).
func entryCost(m model.Memory) int64 {
	return int64(len(m.Content) + len(m.Embedding)*4 + 128)
}

// Cache is a per-tier, TTL-aware LRU-admission cache over model.Memory
// values, keyed by memory ID. It is strictly advisory: every read path
// that misses must fall through to the vector gateway (spec.md §4.B:
// "the cache is never the system of record").
type Cache struct {
	mu       sync.Mutex
	byTier   map[tier.Tier]*tierCache
	settings map[tier.Tier]Settings
}

type tierCache struct {
	rc  *ristretto.Cache
	ttl time.Duration

	statsMu sync.Mutex
	stats   Stats
}

// Stats tracks the counters spec.md §4.B requires for the self-tuning
// rule: hits, misses, evictions, and the derived hit rate.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// HitRate returns hits / (hits+misses), or 0 if there have been no
// lookups yet.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// New builds a Cache with one ristretto instance per tier, sized
// per-tier from settings (spec.md §4.B / §6 tiers.*.capacity, tiers.*.ttl).
func New(settings map[tier.Tier]Settings) (*Cache, error) {
	c := &Cache{
		byTier:   make(map[tier.Tier]*tierCache, len(settings)),
		settings: settings,
	}
	for t, s := range settings {
		numCounters := int64(s.Capacity) * 10
		if numCounters < 1000 {
			numCounters = 1000
		}
		tc := &tierCache{ttl: s.TTL}
		rc, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: numCounters,
			MaxCost:     int64(s.Capacity) * 1024, // rough per-entry cost budget
			BufferItems: 64,
			Metrics:     true,
			OnEvict:     tc.onEvict,
		})
		if err != nil {
			return nil, err
		}
		tc.rc = rc
		c.byTier[t] = tc
	}
	return c, nil
}

func (tc *tierCache) onEvict(*ristretto.Item) {
	tc.statsMu.Lock()
	tc.stats.Evictions++
	tc.statsMu.Unlock()
}

func cacheKey(t tier.Tier, id ids.MemoryID) string {
	return t.String() + ":" + id.String()
}

// Get returns a cached Memory and true on hit, updating recency
// ("updateAgeOnGet=true" per spec.md §4.B). Misses are recorded but
// never populate the cache -- that is the caller's job on the
// subsequent gateway read.
func (c *Cache) Get(t tier.Tier, id ids.MemoryID) (model.Memory, bool) {
	tc, ok := c.tierCache(t)
	if !ok {
		return model.Memory{}, false
	}
	v, found := tc.rc.Get(cacheKey(t, id))
	tc.statsMu.Lock()
	if found {
		tc.stats.Hits++
	} else {
		tc.stats.Misses++
	}
	tc.statsMu.Unlock()
	if !found {
		return model.Memory{}, false
	}
	m, ok := v.(model.Memory)
	if !ok {
		return model.Memory{}, false
	}
	// touch: re-set with the same TTL to refresh ristretto's admission
	// recency, approximating updateAgeOnGet.
	tc.rc.SetWithTTL(cacheKey(t, id), m, entryCost(m), tc.ttl)
	return m.Clone(), true
}

// Put writes m into its tier's cache region.
func (c *Cache) Put(t tier.Tier, m model.Memory) {
	tc, ok := c.tierCache(t)
	if !ok {
		return
	}
	ttl := tc.ttl
	if ttl <= 0 {
		tc.rc.Set(cacheKey(t, m.ID), m.Clone(), entryCost(m))
		return
	}
	tc.rc.SetWithTTL(cacheKey(t, m.ID), m.Clone(), entryCost(m), ttl)
}

// Invalidate removes id from t's cache region, used after a write,
// tier transition, or delete so a stale copy never outlives the
// system of record (spec.md §4.B).
func (c *Cache) Invalidate(t tier.Tier, id ids.MemoryID) {
	if tc, ok := c.tierCache(t); ok {
		tc.rc.Del(cacheKey(t, id))
	}
}

// PurgeStale is a no-op hook retained for API symmetry: ristretto
// expires TTL'd entries lazily on access, so there is nothing to sweep
// proactively. It exists so the lifecycle manager's periodic pass can
// call it uniformly across components without special-casing the cache.
func (c *Cache) PurgeStale(tier.Tier) {}

// Clear drops every entry in every tier's region, used on shutdown or
// full re-index.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tc := range c.byTier {
		tc.rc.Clear()
	}
}

// Stats returns the current hit/miss/eviction counters for tier t.
func (c *Cache) Stats(t tier.Tier) Stats {
	tc, ok := c.tierCache(t)
	if !ok {
		return Stats{}
	}
	tc.statsMu.Lock()
	defer tc.statsMu.Unlock()
	return tc.stats
}

func (c *Cache) tierCache(t tier.Tier) (*tierCache, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tc, ok := c.byTier[t]
	return tc, ok
}

// Resize applies spec.md §4.B's self-tuning rule: below a 0.5 hit rate
// with capacity over 100, shrink to 0.8x; above a 0.8 hit rate with a
// fill ratio over 0.9, grow to 1.2x. It rebuilds the affected tier's
// ristretto instance since MaxCost is fixed at construction.
func (c *Cache) Resize(t tier.Tier) error {
	c.mu.Lock()
	tc, ok := c.byTier[t]
	settings := c.settings[t]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	stats := c.Stats(t)
	hitRate := stats.HitRate()
	metrics := tc.rc.Metrics
	fillRatio := 0.0
	if settings.Capacity > 0 {
		fillRatio = float64(metrics.KeysAdded()-metrics.KeysEvicted()) / float64(settings.Capacity)
	}

	newCapacity := settings.Capacity
	switch {
	case hitRate < 0.5 && settings.Capacity > 100:
		newCapacity = int(float64(settings.Capacity) * 0.8)
	case hitRate > 0.8 && fillRatio > 0.9:
		newCapacity = int(float64(settings.Capacity) * 1.2)
	default:
		return nil
	}

	// This drops every entry in t's tier rather than carrying the MRU
	// ones across, since ristretto has no in-place resize; acceptable
	// only because the cache is advisory and a miss just falls through
	// to the gateway.
	rebuilt, err := New(map[tier.Tier]Settings{t: {Capacity: newCapacity, TTL: settings.TTL}})
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.byTier[t] = rebuilt.byTier[t]
	c.settings[t] = Settings{Capacity: newCapacity, TTL: settings.TTL}
	c.mu.Unlock()
	return nil
}
