// Package config implements the engine's single validated
// configuration document (spec.md §6) as an immutable value published
// through an atomic snapshot store, following the pattern in
// RedClaus-cortex/apps/cortex-coder-agent/pkg/config: viper loads
// defaults + file + environment, mapstructure decodes into typed
// structs, Validate rejects anything invalid before it is ever swapped in.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nimtier/tiermem/tier"
)

// TierSettings mirrors spec.md §6's per-tier configuration document.
type TierSettings struct {
	Capacity            int           `mapstructure:"capacity"`
	TTL                 time.Duration `mapstructure:"ttl"`
	ImportanceThreshold float64       `mapstructure:"importance_threshold"`
	CompressionRatio    float64       `mapstructure:"compression_ratio"`
	BackupFrequency     time.Duration `mapstructure:"backup_frequency"`
	Retention           time.Duration `mapstructure:"retention"`
	PromotionThreshold  float64       `mapstructure:"promotion_threshold"`
	DemotionThreshold   float64       `mapstructure:"demotion_threshold"`
	MaxInactivity       time.Duration `mapstructure:"max_inactivity"`
	DecayRate           float64       `mapstructure:"decay_rate"`
}

// ConsolidationConfig mirrors spec.md §6's consolidation section.
type ConsolidationConfig struct {
	Threshold           float64       `mapstructure:"threshold"`
	MaxClusterSize      int           `mapstructure:"max_cluster_size"`
	MinSimilarity       float64       `mapstructure:"min_similarity"`
	RecencyDecayRate    time.Duration `mapstructure:"recency_decay_rate"`
	ImportanceChangeRate float64      `mapstructure:"importance_change_rate"`
	MaxAccessCount      int64         `mapstructure:"max_access_count"`
	ScheduleInterval    time.Duration `mapstructure:"schedule_interval"`
	MemoryThreshold     int           `mapstructure:"memory_threshold"`
	TimeThreshold       time.Duration `mapstructure:"time_threshold"`
}

// CompressionMethod is a closed enum for the compression method.
type CompressionMethod string

const (
	CompressionLossless CompressionMethod = "lossless"
	CompressionLossy    CompressionMethod = "lossy"
)

// CompressionConfig mirrors spec.md §6's compression section.
type CompressionConfig struct {
	Enabled     bool              `mapstructure:"enabled"`
	Method      CompressionMethod `mapstructure:"method"`
	Quality     int               `mapstructure:"quality"`
	MinSize     int               `mapstructure:"min_size"`
	TargetRatio float64           `mapstructure:"target_ratio"`
}

// EvolutionConfig mirrors spec.md §6's evolution section.
type EvolutionConfig struct {
	AgingRate            time.Duration `mapstructure:"aging_rate"`
	ReinforcementThreshold float64     `mapstructure:"reinforcement_threshold"`
	MaxAge               time.Duration `mapstructure:"max_age"`
	ImportanceDecayRate  float64       `mapstructure:"importance_decay_rate"`
	PromotionThreshold   float64       `mapstructure:"promotion_threshold"`
	DemotionThreshold    float64       `mapstructure:"demotion_threshold"`
	ArchivalThreshold    float64       `mapstructure:"archival_threshold"`
	ImportanceChangeRate float64       `mapstructure:"importance_change_rate"`
	RecencyDecay         time.Duration `mapstructure:"recency_decay"`
	MaxAccessCount       int64         `mapstructure:"max_access_count"`
}

// GeneralConfig mirrors spec.md §6's general section.
type GeneralConfig struct {
	MaxTotalMemories int           `mapstructure:"max_total_memories"`
	BackupInterval   time.Duration `mapstructure:"backup_interval"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`
	CleanupBatchSize int           `mapstructure:"cleanup_batch_size"`
	DefaultTier      string        `mapstructure:"default_tier"`
	EmbeddingDim     int           `mapstructure:"embedding_dim"`
	GatewayTimeout   time.Duration `mapstructure:"gateway_timeout"`
	EmbedderTimeout  time.Duration `mapstructure:"embedder_timeout"`
	RetryAttempts    int           `mapstructure:"retry_attempts"`
	RetryInitialDelay time.Duration `mapstructure:"retry_initial_delay"`
}

// Config is the complete, validated configuration document.
type Config struct {
	Tiers         map[string]TierSettings `mapstructure:"tiers"`
	Consolidation ConsolidationConfig     `mapstructure:"consolidation"`
	Compression   CompressionConfig       `mapstructure:"compression"`
	Evolution     EvolutionConfig         `mapstructure:"evolution"`
	General       GeneralConfig           `mapstructure:"general"`
}

// Default returns the spec's default configuration document.
func Default() *Config {
	return &Config{
		Tiers: map[string]TierSettings{
			"core": {
				Capacity: 1000, TTL: 0, ImportanceThreshold: 0.8,
				CompressionRatio: 0.8, BackupFrequency: 24 * time.Hour,
				Retention: 0, PromotionThreshold: 0.9, DemotionThreshold: 0.7,
			},
			"active": {
				Capacity: 5000, TTL: 24 * time.Hour, ImportanceThreshold: 0.4,
				CompressionRatio: 0.6, BackupFrequency: 6 * time.Hour,
				Retention: 30 * 24 * time.Hour, PromotionThreshold: 0.8, DemotionThreshold: 0.3,
				MaxInactivity: 7 * 24 * time.Hour, DecayRate: 0.05,
			},
			"background": {
				Capacity: 10000, TTL: 6 * time.Hour, ImportanceThreshold: 0.0,
				CompressionRatio: 0.4, BackupFrequency: 1 * time.Hour,
				Retention: 90 * 24 * time.Hour, PromotionThreshold: 0.4, DemotionThreshold: 0.0,
				MaxInactivity: 30 * 24 * time.Hour, DecayRate: 0.1,
			},
		},
		Consolidation: ConsolidationConfig{
			Threshold:            0.7,
			MaxClusterSize:       50,
			MinSimilarity:        0.7,
			RecencyDecayRate:     30 * 24 * time.Hour,
			ImportanceChangeRate: 1.0,
			MaxAccessCount:       100,
			ScheduleInterval:     1 * time.Hour,
			MemoryThreshold:      1000,
			TimeThreshold:        6 * time.Hour,
		},
		Compression: CompressionConfig{
			Enabled:     true,
			Method:      CompressionLossless,
			Quality:     6,
			MinSize:     1024,
			TargetRatio: 0.6,
		},
		Evolution: EvolutionConfig{
			AgingRate:              30 * 24 * time.Hour,
			ReinforcementThreshold: 0.6,
			MaxAge:                 180 * 24 * time.Hour,
			ImportanceDecayRate:    0.1,
			PromotionThreshold:     0.8,
			DemotionThreshold:      0.3,
			ArchivalThreshold:      0.8,
			ImportanceChangeRate:   0.5,
			RecencyDecay:           30 * 24 * time.Hour,
			MaxAccessCount:         100,
		},
		General: GeneralConfig{
			MaxTotalMemories:  16000,
			BackupInterval:    1 * time.Hour,
			CleanupInterval:   1 * time.Hour,
			CleanupBatchSize:  100,
			DefaultTier:       "active",
			EmbeddingDim:      1024,
			GatewayTimeout:    5 * time.Second,
			EmbedderTimeout:   10 * time.Second,
			RetryAttempts:     3,
			RetryInitialDelay: 1 * time.Second,
		},
	}
}

// Load builds a viper instance seeded with Default(), overlays an
// optional config file and TIERMEM_-prefixed environment variables,
// decodes into a Config, and validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TIERMEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// setDefaults seeds every viper key from a fully-populated Config so
// AutomaticEnv/config-file overlays only need to specify what changes.
func setDefaults(v *viper.Viper, d *Config) {
	for name, t := range d.Tiers {
		prefix := "tiers." + name + "."
		v.SetDefault(prefix+"capacity", t.Capacity)
		v.SetDefault(prefix+"ttl", t.TTL)
		v.SetDefault(prefix+"importance_threshold", t.ImportanceThreshold)
		v.SetDefault(prefix+"compression_ratio", t.CompressionRatio)
		v.SetDefault(prefix+"backup_frequency", t.BackupFrequency)
		v.SetDefault(prefix+"retention", t.Retention)
		v.SetDefault(prefix+"promotion_threshold", t.PromotionThreshold)
		v.SetDefault(prefix+"demotion_threshold", t.DemotionThreshold)
		v.SetDefault(prefix+"max_inactivity", t.MaxInactivity)
		v.SetDefault(prefix+"decay_rate", t.DecayRate)
	}
	v.SetDefault("consolidation.threshold", d.Consolidation.Threshold)
	v.SetDefault("consolidation.max_cluster_size", d.Consolidation.MaxClusterSize)
	v.SetDefault("consolidation.min_similarity", d.Consolidation.MinSimilarity)
	v.SetDefault("consolidation.recency_decay_rate", d.Consolidation.RecencyDecayRate)
	v.SetDefault("consolidation.importance_change_rate", d.Consolidation.ImportanceChangeRate)
	v.SetDefault("consolidation.max_access_count", d.Consolidation.MaxAccessCount)
	v.SetDefault("consolidation.schedule_interval", d.Consolidation.ScheduleInterval)
	v.SetDefault("consolidation.memory_threshold", d.Consolidation.MemoryThreshold)
	v.SetDefault("consolidation.time_threshold", d.Consolidation.TimeThreshold)

	v.SetDefault("compression.enabled", d.Compression.Enabled)
	v.SetDefault("compression.method", string(d.Compression.Method))
	v.SetDefault("compression.quality", d.Compression.Quality)
	v.SetDefault("compression.min_size", d.Compression.MinSize)
	v.SetDefault("compression.target_ratio", d.Compression.TargetRatio)

	v.SetDefault("evolution.aging_rate", d.Evolution.AgingRate)
	v.SetDefault("evolution.reinforcement_threshold", d.Evolution.ReinforcementThreshold)
	v.SetDefault("evolution.max_age", d.Evolution.MaxAge)
	v.SetDefault("evolution.importance_decay_rate", d.Evolution.ImportanceDecayRate)
	v.SetDefault("evolution.promotion_threshold", d.Evolution.PromotionThreshold)
	v.SetDefault("evolution.demotion_threshold", d.Evolution.DemotionThreshold)
	v.SetDefault("evolution.archival_threshold", d.Evolution.ArchivalThreshold)
	v.SetDefault("evolution.importance_change_rate", d.Evolution.ImportanceChangeRate)
	v.SetDefault("evolution.recency_decay", d.Evolution.RecencyDecay)
	v.SetDefault("evolution.max_access_count", d.Evolution.MaxAccessCount)

	v.SetDefault("general.max_total_memories", d.General.MaxTotalMemories)
	v.SetDefault("general.backup_interval", d.General.BackupInterval)
	v.SetDefault("general.cleanup_interval", d.General.CleanupInterval)
	v.SetDefault("general.cleanup_batch_size", d.General.CleanupBatchSize)
	v.SetDefault("general.default_tier", d.General.DefaultTier)
	v.SetDefault("general.embedding_dim", d.General.EmbeddingDim)
	v.SetDefault("general.gateway_timeout", d.General.GatewayTimeout)
	v.SetDefault("general.embedder_timeout", d.General.EmbedderTimeout)
	v.SetDefault("general.retry_attempts", d.General.RetryAttempts)
	v.SetDefault("general.retry_initial_delay", d.General.RetryInitialDelay)
}

// TierPolicySettings converts the Tiers section into tier.Settings,
// bridging config's string-keyed map to the tier package's Tier-keyed map.
func (c *Config) TierPolicySettings() (map[tier.Tier]tier.Settings, error) {
	out := make(map[tier.Tier]tier.Settings, len(c.Tiers))
	for name, t := range c.Tiers {
		parsed, ok := tier.Parse(name)
		if !ok {
			return nil, fmt.Errorf("config: unknown tier name %q", name)
		}
		out[parsed] = tier.Settings{
			MinImportance:      t.ImportanceThreshold,
			Capacity:           t.Capacity,
			Retention:          t.Retention,
			PromotionThreshold: t.PromotionThreshold,
			DemotionThreshold:  t.DemotionThreshold,
			MaxInactivity:      t.MaxInactivity,
			DecayRate:          t.DecayRate,
			TTL:                t.TTL,
			CompressionRatio:   t.CompressionRatio,
			BackupFrequency:    t.BackupFrequency,
		}
	}
	return out, nil
}
