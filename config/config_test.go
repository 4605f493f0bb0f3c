package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimtier/tiermem/config"
)

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, config.Validate(config.Default()))
}

func TestValidate_RejectsBadDefaultTier(t *testing.T) {
	c := config.Default()
	c.General.DefaultTier = "middle"
	assert.Error(t, config.Validate(c))
}

func TestValidate_RejectsNonPositiveCapacity(t *testing.T) {
	c := config.Default()
	core := c.Tiers["core"]
	core.Capacity = 0
	c.Tiers["core"] = core
	assert.Error(t, config.Validate(c))
}

func TestValidate_RejectsOutOfRangeRatio(t *testing.T) {
	c := config.Default()
	c.Consolidation.Threshold = 1.5
	assert.Error(t, config.Validate(c))
}

func TestValidate_RejectsUnknownCompressionMethod(t *testing.T) {
	c := config.Default()
	c.Compression.Method = "quantum"
	assert.Error(t, config.Validate(c))
}

func TestStore_SwapRejectsInvalidAtomically(t *testing.T) {
	store := config.NewStore(config.Default())
	before := store.Snapshot()

	bad := config.Default()
	bad.General.MaxTotalMemories = -1
	_, err := store.Swap(bad)
	require.Error(t, err)

	assert.Same(t, before, store.Snapshot())
}

func TestStore_SwapPublishesValid(t *testing.T) {
	store := config.NewStore(config.Default())
	next := config.Default()
	next.General.MaxTotalMemories = 42

	_, err := store.Swap(next)
	require.NoError(t, err)
	assert.Equal(t, 42, store.Snapshot().General.MaxTotalMemories)
}

func TestTierPolicySettings_CoversAllTiers(t *testing.T) {
	c := config.Default()
	settings, err := c.TierPolicySettings()
	require.NoError(t, err)
	assert.Len(t, settings, 3)
}
