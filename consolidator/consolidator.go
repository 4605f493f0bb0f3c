// Package consolidator implements the Consolidator (spec.md §4.F):
// leader/canopy clustering of memories by cosine similarity, and
// merging of each multi-member cluster into a single representative.
package consolidator

import (
	"crypto/sha256"
	"math"
	"sort"
	"time"

	"github.com/nimtier/tiermem/ids"
	"github.com/nimtier/tiermem/model"
	"github.com/nimtier/tiermem/scorer"
	"github.com/nimtier/tiermem/tier"
)

// Params bundles the tunable constants a consolidation pass needs,
// sourced from config.Config's Consolidation section.
type Params struct {
	Threshold      float64 // consolidationThreshold, default 0.7
	MaxClusterSize int
	MaxAccessCount int64
	Scorer         scorer.Params
}

// clusterAcc is a group of memories accumulated by the leader/canopy
// algorithm, together with the running importance-weighted centroid.
type clusterAcc struct {
	ID       ids.ClusterID
	Centroid []float32
	Members  []model.Memory
	weight   float64                        // sum of importance across members, for centroid recomputation
	hashes   map[[sha256.Size]byte]struct{} // content hashes of members, for the exact-duplicate short-circuit
}

// Cluster groups memories in stable input order using leader/canopy
// assignment (spec.md §4.F step 1-4): a memory joins the first
// existing cluster whose centroid is within Threshold cosine
// similarity, else it seeds a new cluster. Byte-identical content
// skips the cosine comparison and merges directly into any cluster
// already holding an identical member (SPEC_FULL.md §3's near-identical
// short-circuit, mirroring scrypster-memento's ContentHash field).
func Cluster(memories []model.Memory, p Params) []*clusterAcc {
	var clusters []*clusterAcc
	for _, m := range memories {
		// an empty payload carries no meaningful content to deduplicate
		// on; skip the short-circuit so blank fixtures don't collapse
		// into one cluster on embedding alone.
		h, hashable := contentHash(m.Content), m.Content != ""
		placed := false
		if hashable {
			for _, c := range clusters {
				if len(c.Members) >= p.MaxClusterSize {
					continue
				}
				if _, exact := c.hashes[h]; exact {
					c.add(m, h, hashable)
					placed = true
					break
				}
			}
		}
		if !placed {
			for _, c := range clusters {
				if len(c.Members) >= p.MaxClusterSize {
					continue
				}
				if cosine(m.Embedding, c.Centroid) >= p.Threshold {
					c.add(m, h, hashable)
					placed = true
					break
				}
			}
		}
		if !placed {
			cl := &clusterAcc{
				ID:       ids.NewClusterID(),
				Centroid: append([]float32(nil), m.Embedding...),
				Members:  []model.Memory{m},
				weight:   m.Importance,
			}
			if hashable {
				cl.hashes = map[[sha256.Size]byte]struct{}{h: {}}
			}
			clusters = append(clusters, cl)
		}
	}
	return clusters
}

func contentHash(content string) [sha256.Size]byte {
	return sha256.Sum256([]byte(content))
}

func (c *clusterAcc) add(m model.Memory, h [sha256.Size]byte, hashable bool) {
	c.Members = append(c.Members, m)
	c.weight += m.Importance
	c.Centroid = weightedCentroid(c.Members)
	if !hashable {
		return
	}
	if c.hashes == nil {
		c.hashes = make(map[[sha256.Size]byte]struct{})
	}
	c.hashes[h] = struct{}{}
}

func weightedCentroid(members []model.Memory) []float32 {
	if len(members) == 0 {
		return nil
	}
	dim := len(members[0].Embedding)
	sum := make([]float64, dim)
	var totalWeight float64
	for _, m := range members {
		w := m.Importance
		if w <= 0 {
			w = 1e-9 // avoid an all-zero-weight cluster losing its centroid
		}
		totalWeight += w
		for i, v := range m.Embedding {
			if i >= dim {
				break
			}
			sum[i] += float64(v) * w
		}
	}
	centroid := make([]float32, dim)
	if totalWeight == 0 {
		return centroid
	}
	for i := range centroid {
		centroid[i] = float32(sum[i] / totalWeight)
	}
	return centroid
}

// MergeOutcome is the result of attempting to merge one cluster.
type MergeOutcome struct {
	Result    model.Memory
	Tombstone []Tombstone // one per merged member, empty if the cluster passed through
	Merged    bool        // false for single-member clusters or a rejected merge
}

// Tombstone records that OldID now resolves to NewID, so callers
// holding a pre-merge id can still be forwarded (spec.md §9's third
// Open Question: the design permits tombstones, shape left to
// implementers).
type Tombstone struct {
	OldID     ids.MemoryID
	NewID     ids.MemoryID
	ClusterID ids.ClusterID
	MergedAt  time.Time
}

// Merge applies spec.md §4.F's merge rule to c. Single-member clusters
// pass through unchanged (Merged=false, Result is the sole member). The
// merge is rejected (Merged=false, Result is zero) if the members
// aren't important enough to be worth consolidating; the members are
// kept in that case.
func Merge(c *clusterAcc, now time.Time, p Params) MergeOutcome {
	if len(c.Members) < 2 {
		return MergeOutcome{Result: c.Members[0], Merged: false}
	}

	sorted := append([]model.Memory(nil), c.Members...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return mergeSortKey(sorted[i], now, p) > mergeSortKey(sorted[j], now, p)
	})

	content := sorted[0].Content
	for _, m := range sorted[1:] {
		content += "\n\n" + m.Content
	}

	embedding := weightedCentroid(c.Members)

	var importanceSum, rawImportanceSum, weightSum float64
	var accessCountSum int64
	for _, m := range c.Members {
		recency := scorer.Recency(now.Sub(m.CreatedAt).Seconds(), p.Scorer)
		accessWeight := model.AccessFrequency(m.AccessCount, p.MaxAccessCount)
		importanceSum += m.Importance * recency * accessWeight
		rawImportanceSum += m.Importance
		weightSum++
		accessCountSum += m.AccessCount
	}
	importance := 0.0
	if weightSum > 0 {
		importance = importanceSum / weightSum
	}
	importance = clamp01(importance)

	// The rejection gate compares against the members' own importance,
	// not the recency/access-weighted value above: that value is
	// dampened by accessWeight (a fraction of maxAccessCount) and is
	// almost always far below a cosine-similarity-scale threshold like
	// Threshold's default 0.7, which would reject nearly every merge
	// regardless of how important or similar the members actually are.
	rawImportance := 0.0
	if weightSum > 0 {
		rawImportance = rawImportanceSum / weightSum
	}
	if rawImportance < p.Threshold {
		return MergeOutcome{Merged: false}
	}

	merged := model.Memory{
		ID:             ids.NewMemoryID(now),
		OwnerID:        sorted[0].OwnerID,
		Content:        content,
		Embedding:      embedding,
		Tier:           tier.CandidateTier(importance),
		Importance:     importance,
		CreatedAt:      now,
		LastAccessedAt: now,
		AccessCount:    accessCountSum,
		Metadata:       mergeMetadata(c.Members),
	}

	tombstones := make([]Tombstone, 0, len(c.Members))
	for _, m := range c.Members {
		tombstones = append(tombstones, Tombstone{OldID: m.ID, NewID: merged.ID, ClusterID: c.ID, MergedAt: now})
	}

	return MergeOutcome{Result: merged, Tombstone: tombstones, Merged: true}
}

func mergeSortKey(m model.Memory, now time.Time, p Params) float64 {
	recency := scorer.Recency(now.Sub(m.CreatedAt).Seconds(), p.Scorer)
	return m.Importance * recency
}

// mergeMetadata applies spec.md §4.F's key-wise merge: numeric values
// are averaged, other values are overwritten by the last member seen.
func mergeMetadata(members []model.Memory) model.Metadata {
	var emotionalSum, contextSum float64
	tagSet := map[string]struct{}{}
	var tags []string
	var connected []string
	var source string
	extra := map[string]any{}
	extraSums := map[string]float64{}
	extraCounts := map[string]int{}

	for _, m := range members {
		emotionalSum += m.Metadata.EmotionalValue
		contextSum += m.Metadata.ContextRelevance
		for _, t := range m.Metadata.Tags {
			if _, ok := tagSet[t]; !ok {
				tagSet[t] = struct{}{}
				tags = append(tags, t)
			}
		}
		connected = append(connected, m.Metadata.ConnectedMemories...)
		if m.Metadata.Source != "" {
			source = m.Metadata.Source
		}
		for k, v := range m.Metadata.Extra {
			if num, ok := asFloat(v); ok {
				extraSums[k] += num
				extraCounts[k]++
				extra[k] = extraSums[k] / float64(extraCounts[k])
				continue
			}
			extra[k] = v
		}
	}

	n := float64(len(members))
	if n == 0 {
		n = 1
	}
	return model.Metadata{
		EmotionalValue:    clamp01(emotionalSum / n),
		ContextRelevance:  clamp01(contextSum / n),
		Tags:              tags,
		Source:            source,
		ConnectedMemories: connected,
		Extra:             extra,
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, normA, normB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
