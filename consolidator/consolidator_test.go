package consolidator_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimtier/tiermem/consolidator"
	"github.com/nimtier/tiermem/ids"
	"github.com/nimtier/tiermem/model"
	"github.com/nimtier/tiermem/scorer"
)

func defaultParams() consolidator.Params {
	return consolidator.Params{
		Threshold:      0.7,
		MaxClusterSize: 50,
		MaxAccessCount: 100,
		Scorer:         scorer.DefaultParams(),
	}
}

func nearDuplicateEmbeddings() [][]float32 {
	return [][]float32{
		{1, 0.01, 0},
		{0.99, 0.02, 0.01},
		{0.98, 0, 0.02},
	}
}

// Scenario 3 from spec.md §8: three near-duplicates consolidate into
// exactly one memory, whose content contains all three originals and
// whose accessCount is their sum.
func TestRun_ConsolidatesThreeNearDuplicates(t *testing.T) {
	now := time.Now()
	embeddings := nearDuplicateEmbeddings()
	var memories []model.Memory
	for i, e := range embeddings {
		memories = append(memories, model.Memory{
			ID:             ids.NewMemoryID(now),
			OwnerID:        "u1",
			Content:        "fact-" + string(rune('A'+i)),
			Embedding:      e,
			Importance:     0.85,
			CreatedAt:      now,
			LastAccessedAt: now,
			AccessCount:    int64(i + 1),
		})
	}

	result := consolidator.Run(memories, now, defaultParams())

	require.Len(t, result.Survivors, 1)
	survivor := result.Survivors[0]
	assert.Contains(t, survivor.Content, "fact-A")
	assert.Contains(t, survivor.Content, "fact-B")
	assert.Contains(t, survivor.Content, "fact-C")
	assert.EqualValues(t, 6, survivor.AccessCount) // 1+2+3
	assert.Len(t, result.Tombstones, 3)
}

// P6: consolidating the consolidator's own output produces no further
// merges (a fixed point), because every survivor becomes its own
// singleton cluster on the next pass.
func TestRun_IsIdempotent(t *testing.T) {
	now := time.Now()
	embeddings := nearDuplicateEmbeddings()
	var memories []model.Memory
	for i, e := range embeddings {
		memories = append(memories, model.Memory{
			ID:             ids.NewMemoryID(now),
			OwnerID:        "u1",
			Content:        "fact",
			Embedding:      e,
			Importance:     0.85,
			CreatedAt:      now,
			LastAccessedAt: now,
			AccessCount:    int64(i + 1),
		})
	}

	first := consolidator.Run(memories, now, defaultParams())
	second := consolidator.Run(first.Survivors, now, defaultParams())

	assert.Empty(t, second.Tombstones)
	assert.Len(t, second.Survivors, len(first.Survivors))
}

func TestCluster_DissimilarMemoriesStaySeparate(t *testing.T) {
	now := time.Now()
	memories := []model.Memory{
		{ID: ids.NewMemoryID(now), Embedding: []float32{1, 0, 0}, Importance: 0.5, CreatedAt: now, LastAccessedAt: now},
		{ID: ids.NewMemoryID(now), Embedding: []float32{0, 1, 0}, Importance: 0.5, CreatedAt: now, LastAccessedAt: now},
	}
	clusters := consolidator.Cluster(memories, defaultParams())
	assert.Len(t, clusters, 2)
}
