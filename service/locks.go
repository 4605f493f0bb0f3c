package service

import (
	"sort"
	"sync"

	"github.com/nimtier/tiermem/ids"
)

// lockShards is the number of stripes the per-id mutex map is split
// into, so lookups for different ids rarely contend on one stripe's guard.
const lockShards = 256

// idLocks is the id-sharded async mutex map spec.md §5 and §9
// prescribe: "an id-sharded async mutex map; never hold two id locks
// unless acquired in lexicographic order." ids hash into a fixed number
// of stripes; each stripe guards its own map from id to that id's
// mutex. A mutex is created the first time its id is locked and is
// never removed, so the maps grow with the number of distinct ids.
type idLocks struct {
	stripes [lockShards]*stripe
}

type stripe struct {
	mu      sync.Mutex
	entries map[ids.MemoryID]*sync.Mutex
}

func newIDLocks() *idLocks {
	l := &idLocks{}
	for i := range l.stripes {
		l.stripes[i] = &stripe{entries: make(map[ids.MemoryID]*sync.Mutex)}
	}
	return l
}

func shardIndex(id ids.MemoryID) int {
	var h uint32 = 2166136261
	for i := 0; i < len(id); i++ {
		h ^= uint32(id[i])
		h *= 16777619
	}
	return int(h % lockShards)
}

func (l *idLocks) mutexFor(id ids.MemoryID) *sync.Mutex {
	s := l.stripes[shardIndex(id)]
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.entries[id]
	if !ok {
		m = &sync.Mutex{}
		s.entries[id] = m
	}
	return m
}

// lockOne acquires the lock for a single id and returns the unlock func.
func (l *idLocks) lockOne(id ids.MemoryID) func() {
	m := l.mutexFor(id)
	m.Lock()
	return m.Unlock
}

// lockMany acquires locks for every id in ids, in lexicographic order,
// to avoid deadlock across concurrent multi-id operations (spec.md
// §5's ordering rule). Duplicate ids are locked once.
func (l *idLocks) lockMany(idList []ids.MemoryID) func() {
	unique := dedupeSorted(idList)
	mutexes := make([]*sync.Mutex, len(unique))
	for i, id := range unique {
		mutexes[i] = l.mutexFor(id)
	}
	for _, m := range mutexes {
		m.Lock()
	}
	return func() {
		for i := len(mutexes) - 1; i >= 0; i-- {
			mutexes[i].Unlock()
		}
	}
}

func dedupeSorted(idList []ids.MemoryID) []ids.MemoryID {
	cp := append([]ids.MemoryID(nil), idList...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Less(cp[j]) })
	out := cp[:0]
	var last ids.MemoryID
	first := true
	for _, id := range cp {
		if first || id != last {
			out = append(out, id)
			last = id
			first = false
		}
	}
	return out
}
