// Package scorer implements the Importance Scorer (spec.md §4.D): pure,
// deterministic functions combining recency, access frequency,
// emotional value, and context relevance into a [0,1] importance
// score. Two distinct formulas are kept, intentionally, for ingestion
// versus ongoing scoring (spec.md §9's first Open Question resolves to
// "keep both").
package scorer

import "math"

// Params bundles the tunable constants the scorer needs, sourced from
// config.Config's Evolution/Consolidation sections. Kept as a small
// value type so scorer has no dependency on the config package.
type Params struct {
	// RecencyDecaySeconds is tau_r, the recency decay constant (default 30 days, in seconds).
	RecencyDecaySeconds float64
	// MaxAccessCount is the access-frequency saturation point (default 100).
	MaxAccessCount int64
}

// DefaultParams returns the spec's default constants.
func DefaultParams() Params {
	return Params{
		RecencyDecaySeconds: 30 * 24 * 60 * 60,
		MaxAccessCount:      100,
	}
}

// Recency computes exp(-(now-t)/tau_r), clamped to [0,1].
func Recency(ageSeconds float64, p Params) float64 {
	if p.RecencyDecaySeconds <= 0 {
		return 0
	}
	if ageSeconds < 0 {
		ageSeconds = 0
	}
	v := math.Exp(-ageSeconds / p.RecencyDecaySeconds)
	return clamp01(v)
}

// AccessFrequency computes min(n/maxAccessCount, 1).
func AccessFrequency(accessCount int64, p Params) float64 {
	if p.MaxAccessCount <= 0 {
		return 0
	}
	f := float64(accessCount) / float64(p.MaxAccessCount)
	return clamp01(f)
}

// IngestionInput bundles the facts needed for the ingestion formula.
type IngestionInput struct {
	AgeSeconds       float64 // now - createdAt, at ingestion time this is ~0
	EmotionalValue   float64
	ContextRelevance float64
	AccessCount      int64
}

// Ingestion implements spec.md §4.D's ingestion score:
//
//	importance = 0.3*recency(createdAt) + 0.3*emotionalValue
//	           + 0.2*contextRelevance + 0.2*accessFrequency(accessCount)
//
// Ingestion emphasises emotional value, which is only available once,
// from upstream, at store time.
func Ingestion(in IngestionInput, p Params) float64 {
	recency := Recency(in.AgeSeconds, p)
	freq := AccessFrequency(in.AccessCount, p)
	score := 0.3*recency + 0.3*in.EmotionalValue + 0.2*in.ContextRelevance + 0.2*freq
	return clamp01(score)
}

// CurrentInput bundles the facts needed for the ongoing scoring formula.
type CurrentInput struct {
	BaseImportance   float64 // the memory's current importance field
	AgeSeconds       float64 // now - createdAt
	AccessCount      int64
	ContextRelevance float64
}

// Current implements spec.md §4.D's ongoing scoring formula, used by
// the Evolver and tier re-evaluation:
//
//	importance' = 0.4*baseImportance + 0.3*recency(createdAt)
//	            + 0.2*accessFrequency(accessCount) + 0.1*contextRelevance
//
// Ongoing scoring emphasises the persistent base importance and
// accumulated usage over the one-shot emotional signal.
func Current(in CurrentInput, p Params) float64 {
	recency := Recency(in.AgeSeconds, p)
	freq := AccessFrequency(in.AccessCount, p)
	score := 0.4*in.BaseImportance + 0.3*recency + 0.2*freq + 0.1*in.ContextRelevance
	return clamp01(score)
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
