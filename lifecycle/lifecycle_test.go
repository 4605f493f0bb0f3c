package lifecycle_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimtier/tiermem/cache"
	"github.com/nimtier/tiermem/clock"
	"github.com/nimtier/tiermem/codec"
	"github.com/nimtier/tiermem/config"
	"github.com/nimtier/tiermem/embedder"
	"github.com/nimtier/tiermem/lifecycle"
	"github.com/nimtier/tiermem/model"
	"github.com/nimtier/tiermem/service"
	"github.com/nimtier/tiermem/tier"
	"github.com/nimtier/tiermem/vectorstore"
)

func newHarness(t *testing.T, mutate func(*config.Config)) (*service.Service, *lifecycle.Manager, *clock.Mock) {
	t.Helper()
	cfg := config.Default()
	cfg.General.EmbeddingDim = 4
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, config.Validate(cfg))
	cfgStore := config.NewStore(cfg)

	settings, err := cfg.TierPolicySettings()
	require.NoError(t, err)
	policy, err := tier.NewPolicy(settings)
	require.NoError(t, err)

	tierCache, err := cache.New(map[tier.Tier]cache.Settings{
		tier.Core:       {Capacity: 1000, TTL: 0},
		tier.Active:     {Capacity: 1000, TTL: 24 * time.Hour},
		tier.Background: {Capacity: 1000, TTL: 6 * time.Hour},
	})
	require.NoError(t, err)

	gateway := vectorstore.NewFake()
	c := codec.New(1024)
	embed := embedder.NewMock(4)
	mockClock := clock.NewMock(time.Now())

	svc := service.New(cfgStore, policy, gateway, tierCache, c, embed, mockClock, zerolog.Nop())
	mgr := lifecycle.New(svc, policy, cfgStore, mockClock, nil, zerolog.Nop())
	return svc, mgr, mockClock
}

// Scenario 4 from spec.md §8: with maxTotalMemories=4 and 6 memories
// at increasing importances, one lifecycle pass leaves exactly 4,
// evicting the two with the lowest importance as scored at cleanup time
// (after that pass's evolution and tier steps).
func TestRunOnce_EnforcesCapacity(t *testing.T) {
	svc, mgr, clk := newHarness(t, func(c *config.Config) {
		c.General.MaxTotalMemories = 4
	})
	ctx := context.Background()

	importances := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6}
	for i, imp := range importances {
		draft := model.Draft{
			OwnerID:   "u1",
			Content:   "memory",
			Embedding: []float32{float32(i) + 1, 0, 0, 0},
			Metadata:  model.Metadata{EmotionalValue: imp, ContextRelevance: imp},
		}
		_, err := svc.Store(ctx, draft)
		require.NoError(t, err)
	}
	_ = clk

	require.NoError(t, mgr.RunOnce(ctx))

	all, err := svc.AllMemories(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestForceConsolidation_BuildsClusters(t *testing.T) {
	svc, mgr, _ := newHarness(t, nil)
	ctx := context.Background()

	embedding := []float32{1, 0, 0, 0}
	for i := 0; i < 3; i++ {
		draft := model.Draft{
			OwnerID:   "u1",
			Content:   "near-duplicate",
			Embedding: embedding,
			Metadata:  model.Metadata{EmotionalValue: 0.9, ContextRelevance: 0.9},
		}
		_, err := svc.Store(ctx, draft)
		require.NoError(t, err)
	}

	stats, err := mgr.ForceConsolidation(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.ClustersBuilt, 1)
}
