package tier

import "time"

// Settings holds the per-tier configuration values from spec.md §4.E's
// tier table. Kept dependency-free (no model import) so tier stays a
// leaf package; callers pass in the primitive facts a decision needs.
type Settings struct {
	MinImportance        float64
	Capacity             int
	Retention            time.Duration // 0 means infinite retention (core)
	PromotionThreshold   float64
	DemotionThreshold    float64
	MinAccessCount       int64
	MinFrequency         float64
	MaxInactivity        time.Duration
	DecayRate            float64
	TTL                  time.Duration // cache TTL, spec.md §4.B
	CompressionRatio     float64
	BackupFrequency      time.Duration
}

// Policy is the immutable, validated tier table. Constructed once from
// config and passed by value/pointer to every component that needs it
// (spec.md §9: configuration is an immutable value, not a singleton).
type Policy struct {
	settings map[Tier]Settings
}

// DefaultSettings returns the tier table defaults from spec.md §4.E.
func DefaultSettings() map[Tier]Settings {
	return map[Tier]Settings{
		Core: {
			MinImportance:      0.8,
			Capacity:           1000,
			Retention:          0,
			PromotionThreshold: 0.9,
			DemotionThreshold:  0.7,
			MinAccessCount:     0,
			MinFrequency:       0,
			MaxInactivity:      0,
			DecayRate:          0,
			TTL:                0,
			CompressionRatio:   0.8,
			BackupFrequency:    24 * time.Hour,
		},
		Active: {
			MinImportance:      0.4,
			Capacity:           5000,
			Retention:          30 * 24 * time.Hour,
			PromotionThreshold: 0.8,
			DemotionThreshold:  0.3,
			MinAccessCount:     0,
			MinFrequency:       0,
			MaxInactivity:      7 * 24 * time.Hour,
			DecayRate:          0.05,
			TTL:                24 * time.Hour,
			CompressionRatio:   0.6,
			BackupFrequency:    6 * time.Hour,
		},
		Background: {
			MinImportance:      0.0,
			Capacity:           10000,
			Retention:          90 * 24 * time.Hour,
			PromotionThreshold: 0.4,
			DemotionThreshold:  0.0,
			MinAccessCount:     0,
			MinFrequency:       0,
			MaxInactivity:      30 * 24 * time.Hour,
			DecayRate:          0.1,
			TTL:                6 * time.Hour,
			CompressionRatio:   0.4,
			BackupFrequency:    1 * time.Hour,
		},
	}
}

// NewPolicy validates and wraps a per-tier settings map.
func NewPolicy(settings map[Tier]Settings) (*Policy, error) {
	if err := Validate(settings); err != nil {
		return nil, err
	}
	// defensive copy: the caller's map must not be mutable after construction
	cp := make(map[Tier]Settings, len(settings))
	for k, v := range settings {
		cp[k] = v
	}
	return &Policy{settings: cp}, nil
}

// DefaultPolicy returns the Policy built from DefaultSettings.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(DefaultSettings())
	if err != nil {
		panic("tier: default settings failed validation: " + err.Error())
	}
	return p
}

// Settings returns the settings for tier t.
func (p *Policy) Settings(t Tier) Settings {
	return p.settings[t]
}

// Capacity returns capacity(t).
func (p *Policy) Capacity(t Tier) int { return p.settings[t].Capacity }

// MinImportance returns minImportance(t).
func (p *Policy) MinImportance(t Tier) float64 { return p.settings[t].MinImportance }

// PromotionInput bundles the facts a promotion/demotion decision needs
// about a single memory, independent of the model package.
type PromotionInput struct {
	Tier            Tier
	Importance      float64
	AccessCount     int64
	AccessFrequency float64
	LastAccessedAt  time.Time
	CreatedAt       time.Time
	Now             time.Time
}

// ShouldPromote implements spec.md §4.E's promotion predicate:
// importance >= promotionThreshold(t) AND accessCount >= minAccessCount(t)
// AND accessFrequency >= minFrequency(t).
func (p *Policy) ShouldPromote(in PromotionInput) bool {
	s := p.settings[in.Tier]
	return in.Importance >= s.PromotionThreshold &&
		in.AccessCount >= s.MinAccessCount &&
		in.AccessFrequency >= s.MinFrequency
}

// ShouldDemote implements spec.md §4.E's demotion predicate:
// inactivity period exceeds maxInactivity(t) OR
// importance*(1-decayRate(t)) < demotionThreshold(t).
func (p *Policy) ShouldDemote(in PromotionInput) bool {
	s := p.settings[in.Tier]
	if s.MaxInactivity > 0 {
		inactivity := in.Now.Sub(in.LastAccessedAt)
		if inactivity > s.MaxInactivity {
			return true
		}
	}
	decayed := in.Importance * (1 - s.DecayRate)
	return decayed < s.DemotionThreshold
}

// NextTier applies a single-step promotion or demotion, per spec.md
// §4.E's "tiers transition only one step at a time" rule. It never
// returns a tier two steps away from in.Tier in one call.
func (p *Policy) NextTier(in PromotionInput) Tier {
	if p.ShouldPromote(in) {
		if next, ok := in.Tier.Step(true); ok {
			return next
		}
		return in.Tier
	}
	if p.ShouldDemote(in) {
		if next, ok := in.Tier.Step(false); ok {
			return next
		}
		return in.Tier
	}
	return in.Tier
}
