package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/nimtier/tiermem/ids"
	"github.com/nimtier/tiermem/tier"
)

// Fake is an in-memory Gateway implementation used by unit tests for
// every component that depends on the Gateway interface, so tests
// don't need a real chromem-go database.
type Fake struct {
	mu      sync.Mutex
	byTier  map[tier.Tier]map[string]Document // tier -> id -> doc
}

// NewFake creates an empty in-memory gateway.
func NewFake() *Fake {
	return &Fake{byTier: make(map[tier.Tier]map[string]Document)}
}

func (f *Fake) Insert(ctx context.Context, t tier.Tier, doc Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.byTier[t]
	if !ok {
		m = make(map[string]Document)
		f.byTier[t] = m
	}
	m[doc.ID.String()] = doc
	return nil
}

func (f *Fake) DeleteByID(ctx context.Context, t tier.Tier, ownerID string, id ids.MemoryID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.byTier[t]; ok {
		delete(m, id.String())
	}
	return nil
}

func (f *Fake) QueryByFilter(ctx context.Context, t tier.Tier, ownerID string, filter Filter, limit int) ([]Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Document
	for _, doc := range f.byTier[t] {
		if ownerID != "" && doc.OwnerID != ownerID {
			continue
		}
		if matchesFilter(doc, filter) {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *Fake) SearchByVector(ctx context.Context, t tier.Tier, ownerID string, embedding []float32, limit int) ([]Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matches []Match
	for _, doc := range f.byTier[t] {
		if ownerID != "" && doc.OwnerID != ownerID {
			continue
		}
		matches = append(matches, Match{Document: doc, Similarity: cosine(embedding, doc.Embedding)})
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Similarity > matches[j].Similarity })
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (f *Fake) Compact(ctx context.Context, t tier.Tier, ownerID string) error { return nil }

func matchesFilter(doc Document, filter Filter) bool {
	for k, v := range filter {
		if doc.Filter[k] != v {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
