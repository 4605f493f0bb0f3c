package evolver_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimtier/tiermem/evolver"
	"github.com/nimtier/tiermem/ids"
	"github.com/nimtier/tiermem/model"
	"github.com/nimtier/tiermem/scorer"
	"github.com/nimtier/tiermem/tier"
)

func defaultParams() evolver.Params {
	return evolver.Params{
		Scorer:                 scorer.DefaultParams(),
		MaxAge:                 180 * 24 * time.Hour,
		AgingRate:              30 * 24 * time.Hour,
		ReinforcementThreshold: 0.6,
		ArchivalThreshold:      0.8,
		ImportanceChangeRate:   0.5,
	}
}

// Scenario 2 from spec.md §8: a 200-day-old, low-importance, never
// accessed memory must have an archival probability above threshold
// and be forced to background.
func TestEvolve_AgeOutAndArchive(t *testing.T) {
	now := time.Now()
	m := model.Memory{
		ID:             ids.NewMemoryID(now),
		OwnerID:        "u1",
		Content:        "old memory",
		Tier:           tier.Active,
		Importance:     0.35,
		CreatedAt:      now.Add(-200 * 24 * time.Hour),
		LastAccessedAt: now.Add(-200 * 24 * time.Hour),
		AccessCount:    0,
	}

	result := evolver.Evolve(m, now, defaultParams())

	require.True(t, result.Archived)
	assert.Equal(t, tier.Background, result.Memory.Tier)
	assert.True(t, result.Evolved)
}

func TestEvolve_NoChangeIsNotEvolved(t *testing.T) {
	now := time.Now()
	m := model.Memory{
		ID:             ids.NewMemoryID(now),
		OwnerID:        "u1",
		Content:        "steady",
		Tier:           tier.Core,
		Importance:     1.0,
		CreatedAt:      now,
		LastAccessedAt: now,
		AccessCount:    1000,
		Metadata:       model.Metadata{EmotionalValue: 1, ContextRelevance: 1},
	}

	result := evolver.Evolve(m, now, defaultParams())
	if !result.Evolved {
		assert.Equal(t, m.Importance, result.Memory.Importance)
		assert.Equal(t, m.Tier, result.Memory.Tier)
	}
}

func TestEvolve_AppendsHistoryOnChange(t *testing.T) {
	now := time.Now()
	m := model.Memory{
		ID:             ids.NewMemoryID(now),
		OwnerID:        "u1",
		Content:        "will change",
		Tier:           tier.Active,
		Importance:     0.5,
		CreatedAt:      now.Add(-10 * 24 * time.Hour),
		LastAccessedAt: now.Add(-10 * 24 * time.Hour),
		AccessCount:    5,
	}

	result := evolver.Evolve(m, now, defaultParams())
	if result.Evolved {
		require.NotNil(t, result.Memory.Metadata.EvolutionHistory)
		assert.Equal(t, 1, result.Memory.Metadata.EvolutionHistory.Len())
	}
}

func TestEvolve_ImportanceStaysInBounds(t *testing.T) {
	now := time.Now()
	m := model.Memory{
		ID:             ids.NewMemoryID(now),
		OwnerID:        "u1",
		Content:        "extreme",
		Tier:           tier.Core,
		Importance:     0.0,
		CreatedAt:      now,
		LastAccessedAt: now,
		AccessCount:    0,
		Metadata:       model.Metadata{EmotionalValue: 1, ContextRelevance: 1},
	}
	result := evolver.Evolve(m, now, defaultParams())
	assert.GreaterOrEqual(t, result.Memory.Importance, 0.0)
	assert.LessOrEqual(t, result.Memory.Importance, 1.0)
}
