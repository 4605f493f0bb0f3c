package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/nimtier/tiermem/ids"
	"github.com/nimtier/tiermem/tier"
)

// Memoized wraps a Gateway with a bounded LRU of recent
// SearchByVector/QueryByFilter results, keyed by (tier, owner, query
// shape). It is a read-side optimization only: every mutation
// (Insert/DeleteByID/Compact) invalidates the owner's entries rather
// than trying to patch them, since a single insert can change every
// ranking in a collection (spec.md §4.A: "query results MAY be
// memoized for a bounded window; any write to the owning collection
// invalidates its entries").
type Memoized struct {
	inner Gateway
	cache *lru.Cache[string, []Match]
	docs  *lru.Cache[string, []Document]

	mu      sync.Mutex
	byOwner map[string]map[string]struct{} // ownerKey -> set of cache keys touching it
}

// NewMemoized wraps inner with LRUs of the given capacity for vector
// searches and filter queries respectively.
func NewMemoized(inner Gateway, capacity int) *Memoized {
	if capacity <= 0 {
		capacity = 256
	}
	searchCache, _ := lru.New[string, []Match](capacity)
	filterCache, _ := lru.New[string, []Document](capacity)
	return &Memoized{
		inner:   inner,
		cache:   searchCache,
		docs:    filterCache,
		byOwner: make(map[string]map[string]struct{}),
	}
}

func ownerKey(t tier.Tier, ownerID string) string {
	return t.String() + "|" + ownerID
}

func vectorKey(t tier.Tier, ownerID string, embedding []float32, limit int) string {
	h := sha256.New()
	h.Write([]byte(ownerKey(t, ownerID)))
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(limit))
	h.Write(buf)
	for _, f := range embedding {
		bits := make([]byte, 4)
		binary.LittleEndian.PutUint32(bits, math.Float32bits(f))
		h.Write(bits)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func filterKey(t tier.Tier, ownerID string, filter Filter, limit int) string {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := sha256.New()
	h.Write([]byte(ownerKey(t, ownerID)))
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(filter[k]))
		h.Write([]byte{0})
	}
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(limit))
	h.Write(buf)
	return hex.EncodeToString(h.Sum(nil))
}

func (m *Memoized) track(owner, cacheKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.byOwner[owner]
	if !ok {
		set = make(map[string]struct{})
		m.byOwner[owner] = set
	}
	set[cacheKey] = struct{}{}
}

func (m *Memoized) invalidateOwner(owner string) {
	m.mu.Lock()
	set := m.byOwner[owner]
	delete(m.byOwner, owner)
	m.mu.Unlock()

	for key := range set {
		m.cache.Remove(key)
		m.docs.Remove(key)
	}
}

func (m *Memoized) Insert(ctx context.Context, t tier.Tier, doc Document) error {
	if err := m.inner.Insert(ctx, t, doc); err != nil {
		return err
	}
	m.invalidateOwner(ownerKey(t, doc.OwnerID))
	return nil
}

func (m *Memoized) DeleteByID(ctx context.Context, t tier.Tier, ownerID string, id ids.MemoryID) error {
	if err := m.inner.DeleteByID(ctx, t, ownerID, id); err != nil {
		return err
	}
	m.invalidateOwner(ownerKey(t, ownerID))
	return nil
}

func (m *Memoized) Compact(ctx context.Context, t tier.Tier, ownerID string) error {
	if err := m.inner.Compact(ctx, t, ownerID); err != nil {
		return err
	}
	m.invalidateOwner(ownerKey(t, ownerID))
	return nil
}

func (m *Memoized) QueryByFilter(ctx context.Context, t tier.Tier, ownerID string, filter Filter, limit int) ([]Document, error) {
	key := filterKey(t, ownerID, filter, limit)
	if cached, ok := m.docs.Get(key); ok {
		return cached, nil
	}
	docs, err := m.inner.QueryByFilter(ctx, t, ownerID, filter, limit)
	if err != nil {
		return nil, err
	}
	m.docs.Add(key, docs)
	m.track(ownerKey(t, ownerID), key)
	return docs, nil
}

func (m *Memoized) SearchByVector(ctx context.Context, t tier.Tier, ownerID string, embedding []float32, limit int) ([]Match, error) {
	key := vectorKey(t, ownerID, embedding, limit)
	if cached, ok := m.cache.Get(key); ok {
		return cached, nil
	}
	matches, err := m.inner.SearchByVector(ctx, t, ownerID, embedding, limit)
	if err != nil {
		return nil, err
	}
	m.cache.Add(key, matches)
	m.track(ownerKey(t, ownerID), key)
	return matches, nil
}
