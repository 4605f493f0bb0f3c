package service_test

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
	"github.com/nimtier/tiermem/model"
	"github.com/nimtier/tiermem/service"
	"github.com/nimtier/tiermem/tier"
	"github.com/nimtier/tiermem/vectorstore"
)

func testConfig() *config.Config {
	c := config.Default()
	c.General.EmbeddingDim = 4
	return c
}

func newTestService(t *testing.T, clk clock.Clock) *service.Service {
	t.Helper()
	cfg := testConfig()
	require.NoError(t, config.Validate(cfg))
	cfgStore := config.NewStore(cfg)

	settings, err := cfg.TierPolicySettings()
	require.NoError(t, err)
	policy, err := tier.NewPolicy(settings)
	require.NoError(t, err)

	tierCache, err := cache.New(map[tier.Tier]cache.Settings{
		tier.Core:       {Capacity: 100, TTL: 0},
		tier.Active:     {Capacity: 100, TTL: 24 * time.Hour},
		tier.Background: {Capacity: 100, TTL: 6 * time.Hour},
	})
	require.NoError(t, err)

	gateway := vectorstore.NewFake()
	c := codec.New(1024)
	embed := embedder.NewMock(4)

	return service.New(cfgStore, policy, gateway, tierCache, c, embed, clk, zerolog.Nop())
}

func draftWith(owner string, emotional, relevance float64, embedding []float32) model.Draft {
	return model.Draft{
		OwnerID:   owner,
		Content:   "hello world",
		Embedding: embedding,
		Metadata:  model.Metadata{EmotionalValue: emotional, ContextRelevance: relevance},
	}
}

func TestStore_RejectsEmptyContent(t *testing.T) {
	svc := newTestService(t, clock.NewMock(time.Now()))
	_, err := svc.Store(context.Background(), model.Draft{OwnerID: "u1", Embedding: []float32{1, 0, 0, 0}})
	require.Error(t, err)
}

func TestStore_RejectsWrongDimension(t *testing.T) {
	svc := newTestService(t, clock.NewMock(time.Now()))
	_, err := svc.Store(context.Background(), model.Draft{OwnerID: "u1", Content: "hi", Embedding: []float32{1, 0}})
	require.Error(t, err)
}

// P2: store followed by retrieve of the exact embedding returns the
// stored memory as the top result.
func TestStoreThenRetrieve_ReturnsStoredMemory(t *testing.T) {
	now := time.Now()
	svc := newTestService(t, clock.NewMock(now))
	embedding := []float32{1, 0, 0, 0}

	id, err := svc.Store(context.Background(), draftWith("u1", 0.9, 0.8, embedding))
	require.NoError(t, err)

	results, err := svc.Retrieve(context.Background(), "u1", "", embedding, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)
}

// P1: retrieve never returns memories belonging to a different owner.
func TestRetrieve_NeverCrossesOwners(t *testing.T) {
	now := time.Now()
	svc := newTestService(t, clock.NewMock(now))
	embedding := []float32{1, 0, 0, 0}

	_, err := svc.Store(context.Background(), draftWith("owner-a", 0.9, 0.8, embedding))
	require.NoError(t, err)
	_, err = svc.Store(context.Background(), draftWith("owner-b", 0.9, 0.8, embedding))
	require.NoError(t, err)

	results, err := svc.Retrieve(context.Background(), "owner-a", "", embedding, 5)
	require.NoError(t, err)
	for _, m := range results {
		assert.Equal(t, "owner-a", m.OwnerID)
	}
}

// P4: accessCount after retrieve is >= before.
func TestRetrieve_IncrementsAccessCount(t *testing.T) {
	now := time.Now()
	mockClock := clock.NewMock(now)
	svc := newTestService(t, mockClock)
	embedding := []float32{1, 0, 0, 0}

	_, err := svc.Store(context.Background(), draftWith("u1", 0.9, 0.8, embedding))
	require.NoError(t, err)

	first, err := svc.Retrieve(context.Background(), "u1", "", embedding, 5)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.EqualValues(t, 1, first[0].AccessCount)

	mockClock.Advance(time.Minute)
	second, err := svc.Retrieve(context.Background(), "u1", "", embedding, 5)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.GreaterOrEqual(t, second[0].AccessCount, first[0].AccessCount)
}

func TestTransitionTier_RejectsInsufficientImportance(t *testing.T) {
	now := time.Now()
	svc := newTestService(t, clock.NewMock(now))
	embedding := []float32{1, 0, 0, 0}

	id, err := svc.Store(context.Background(), draftWith("u1", 0.1, 0.1, embedding))
	require.NoError(t, err)

	m, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	m.Importance = 0.1

	err = svc.TransitionTier(context.Background(), m, tier.Core)
	require.Error(t, err)
}
