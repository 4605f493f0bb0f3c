package service

import (
	"sync"

	"github.com/nimtier/tiermem/ids"
	"github.com/nimtier/tiermem/tier"
)

// location is where a memory currently lives: which owner's partition
// and which tier's collection. The Vector Gateway's operations all
// take (tier, ownerID) rather than a bare id, so the service keeps
// this small catalog to route by-id calls (get, transitionTier,
// delete) to the right collection without a linear scan.
type location struct {
	OwnerID string
	Tier    tier.Tier
}

// registry is an in-memory index from memory id to its current
// (owner, tier). It is a supporting structure, not a system of
// record: the Vector Gateway's collections remain authoritative. The
// registry is filled only by this Service's own writes and is never
// rebuilt from the gateway, so rows it did not write are unknown to
// the by-id and by-tier operations.
type registry struct {
	mu   sync.RWMutex
	byID map[ids.MemoryID]location
}

func newRegistry() *registry {
	return &registry{byID: make(map[ids.MemoryID]location)}
}

func (r *registry) put(id ids.MemoryID, loc location) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[id] = loc
}

func (r *registry) get(id ids.MemoryID) (location, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	loc, ok := r.byID[id]
	return loc, ok
}

func (r *registry) remove(id ids.MemoryID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}

// ownersInTier returns the distinct owner ids with at least one
// member in tier t, so the service can enumerate per-owner gateway
// collections without a global "list owners" operation.
func (r *registry) ownersInTier(t tier.Tier) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, loc := range r.byID {
		if loc.Tier != t {
			continue
		}
		if _, ok := seen[loc.OwnerID]; !ok {
			seen[loc.OwnerID] = struct{}{}
			out = append(out, loc.OwnerID)
		}
	}
	return out
}

func (r *registry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}
