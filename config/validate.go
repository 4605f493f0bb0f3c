package config

import (
	"fmt"

	"github.com/nimtier/tiermem/tier"
)

// Validate applies spec.md §6's validation rules: all capacities
// positive; all ratios in [0,1]; all intervals positive;
// defaultTier in {core, active, background}. Invalid updates are
// rejected atomically -- Validate is the single gate a caller must
// pass before Store.Swap ever publishes a new snapshot.
func Validate(c *Config) error {
	if _, ok := tier.Parse(c.General.DefaultTier); !ok {
		return fmt.Errorf("general.default_tier must be one of core/active/background, got %q", c.General.DefaultTier)
	}
	if c.General.MaxTotalMemories <= 0 {
		return fmt.Errorf("general.max_total_memories must be positive")
	}
	if c.General.CleanupBatchSize <= 0 {
		return fmt.Errorf("general.cleanup_batch_size must be positive")
	}
	if c.General.EmbeddingDim <= 0 {
		return fmt.Errorf("general.embedding_dim must be positive")
	}
	if c.General.BackupInterval <= 0 || c.General.CleanupInterval <= 0 ||
		c.General.GatewayTimeout <= 0 || c.General.EmbedderTimeout <= 0 {
		return fmt.Errorf("general intervals/timeouts must be positive")
	}
	if c.General.RetryAttempts <= 0 || c.General.RetryInitialDelay <= 0 {
		return fmt.Errorf("general retry settings must be positive")
	}

	settings, err := c.TierPolicySettings()
	if err != nil {
		return err
	}
	if err := tier.Validate(settings); err != nil {
		return err
	}

	if err := ratio01("consolidation.threshold", c.Consolidation.Threshold); err != nil {
		return err
	}
	if err := ratio01("consolidation.min_similarity", c.Consolidation.MinSimilarity); err != nil {
		return err
	}
	if c.Consolidation.MaxClusterSize <= 0 {
		return fmt.Errorf("consolidation.max_cluster_size must be positive")
	}
	if c.Consolidation.ScheduleInterval <= 0 || c.Consolidation.TimeThreshold <= 0 {
		return fmt.Errorf("consolidation intervals must be positive")
	}
	if c.Consolidation.MemoryThreshold <= 0 {
		return fmt.Errorf("consolidation.memory_threshold must be positive")
	}
	if c.Consolidation.MaxAccessCount <= 0 {
		return fmt.Errorf("consolidation.max_access_count must be positive")
	}

	if c.Compression.Method != CompressionLossless && c.Compression.Method != CompressionLossy {
		return fmt.Errorf("compression.method must be lossless or lossy, got %q", c.Compression.Method)
	}
	if c.Compression.Quality < 0 || c.Compression.Quality > 9 {
		return fmt.Errorf("compression.quality must be in [0,9]")
	}
	if c.Compression.MinSize < 0 {
		return fmt.Errorf("compression.min_size must be non-negative")
	}
	if err := ratio01("compression.target_ratio", c.Compression.TargetRatio); err != nil {
		return err
	}

	if err := ratio01("evolution.reinforcement_threshold", c.Evolution.ReinforcementThreshold); err != nil {
		return err
	}
	if err := ratio01("evolution.importance_decay_rate", c.Evolution.ImportanceDecayRate); err != nil {
		return err
	}
	if err := ratio01("evolution.promotion_threshold", c.Evolution.PromotionThreshold); err != nil {
		return err
	}
	if err := ratio01("evolution.demotion_threshold", c.Evolution.DemotionThreshold); err != nil {
		return err
	}
	if err := ratio01("evolution.archival_threshold", c.Evolution.ArchivalThreshold); err != nil {
		return err
	}
	if c.Evolution.MaxAge <= 0 || c.Evolution.AgingRate <= 0 || c.Evolution.RecencyDecay <= 0 {
		return fmt.Errorf("evolution durations must be positive")
	}
	if c.Evolution.MaxAccessCount <= 0 {
		return fmt.Errorf("evolution.max_access_count must be positive")
	}

	return nil
}

func ratio01(field string, v float64) error {
	if v < 0 || v > 1 {
		return fmt.Errorf("%s must be in [0,1], got %f", field, v)
	}
	return nil
}
