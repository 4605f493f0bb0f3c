package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimtier/tiermem/ids"
	"github.com/nimtier/tiermem/model"
	"github.com/nimtier/tiermem/tier"
)

func TestMemory_CheckInvariants(t *testing.T) {
	now := time.Now()
	base := model.Memory{
		ID:             ids.NewMemoryID(now),
		OwnerID:        "user-1",
		Content:        "hello",
		Tier:           tier.Active,
		Importance:     0.5,
		CreatedAt:      now.Add(-time.Hour),
		LastAccessedAt: now,
		AccessCount:    3,
	}
	require.NoError(t, base.CheckInvariants(now))

	t.Run("importance out of range", func(t *testing.T) {
		m := base
		m.Importance = 1.5
		assert.Error(t, m.CheckInvariants(now))
	})

	t.Run("createdAt after lastAccessedAt", func(t *testing.T) {
		m := base
		m.CreatedAt = now.Add(time.Hour)
		assert.Error(t, m.CheckInvariants(now))
	})

	t.Run("lastAccessedAt in the future", func(t *testing.T) {
		m := base
		m.LastAccessedAt = now.Add(time.Hour)
		assert.Error(t, m.CheckInvariants(now))
	})

	t.Run("negative access count", func(t *testing.T) {
		m := base
		m.AccessCount = -1
		assert.Error(t, m.CheckInvariants(now))
	})
}

func TestMemory_Clone_IsDeep(t *testing.T) {
	m := model.Memory{
		Embedding: []float32{1, 2, 3},
		Metadata: model.Metadata{
			Tags:  []string{"a"},
			Extra: map[string]any{"k": "v"},
		},
	}
	cp := m.Clone()
	cp.Embedding[0] = 99
	cp.Metadata.Tags[0] = "z"
	cp.Metadata.Extra["k"] = "changed"

	assert.Equal(t, float32(1), m.Embedding[0])
	assert.Equal(t, "a", m.Metadata.Tags[0])
	assert.Equal(t, "v", m.Metadata.Extra["k"])
}

func TestAccessFrequency(t *testing.T) {
	assert.Equal(t, 0.5, model.AccessFrequency(50, 100))
	assert.Equal(t, 1.0, model.AccessFrequency(150, 100))
	assert.Equal(t, 0.0, model.AccessFrequency(0, 100))
	assert.Equal(t, 0.0, model.AccessFrequency(10, 0))
}

func TestEvolutionHistory_RingBuffer(t *testing.T) {
	h := model.NewEvolutionHistory()
	for i := 0; i < model.EvolutionRecordCapacity+5; i++ {
		h.Append(model.EvolutionEvent{Delta: float64(i)})
	}
	entries := h.Entries()
	require.Len(t, entries, model.EvolutionRecordCapacity)
	// oldest surviving entry should be index 5 (the first 5 were overwritten)
	assert.Equal(t, float64(5), entries[0].Delta)
	assert.Equal(t, float64(model.EvolutionRecordCapacity+4), entries[len(entries)-1].Delta)
}
