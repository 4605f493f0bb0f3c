// Package evolver implements the Evolver (spec.md §4.G): a per-memory,
// per-cycle update to importance and tier driven by aging and
// reinforcement, independent of any other memory.
package evolver

import (
	"math"
	"time"

	"github.com/nimtier/tiermem/model"
	"github.com/nimtier/tiermem/scorer"
	"github.com/nimtier/tiermem/tier"
)

// Params bundles the constants an evolution pass needs beyond the
// scorer's own Params, sourced from config.Config's Evolution section.
type Params struct {
	Scorer                 scorer.Params
	MaxAge                 time.Duration // maxAge, the age at which the archival formula's age term saturates at 1
	AgingRate              time.Duration // tau_age, the aging-factor decay constant
	ReinforcementThreshold float64
	ArchivalThreshold      float64
	ImportanceChangeRate   float64
}

// Result is one memory's evolution outcome.
type Result struct {
	Memory      model.Memory
	Evolved     bool
	Archived    bool
	Reinforced  bool
	Event       model.EvolutionEvent
}

// Evolve applies spec.md §4.G's five-step formula to m and returns the
// (possibly unchanged) result. now must be >= m.LastAccessedAt.
func Evolve(m model.Memory, now time.Time, p Params) Result {
	age := now.Sub(m.CreatedAt)
	ageSeconds := age.Seconds()
	accessModifier := model.AccessFrequency(m.AccessCount, p.Scorer.MaxAccessCount)

	tauAge := p.AgingRate.Seconds()
	if tauAge <= 0 {
		tauAge = 1
	}
	alpha := expNeg(ageSeconds/tauAge) * (1 + 0.5*m.Importance + accessModifier)

	recencyLastAccess := scorer.Recency(now.Sub(m.LastAccessedAt).Seconds(), p.Scorer)
	r := 0.4*recencyLastAccess + 0.3*m.Metadata.EmotionalValue + 0.3*m.Metadata.ContextRelevance

	maxAgeSeconds := p.MaxAge.Seconds()
	ageRatio := 1.0
	if maxAgeSeconds > 0 {
		ageRatio = ageSeconds / maxAgeSeconds
		if ageRatio > 1 {
			ageRatio = 1
		}
	}
	archivalProb := 0.4*ageRatio + 0.3*(1-m.Importance) + 0.3*(1-accessModifier)
	archived := archivalProb > p.ArchivalThreshold
	reinforced := r > p.ReinforcementThreshold

	delta := (r - (1 - alpha)) * p.ImportanceChangeRate
	newImportance := clamp01(m.Importance + delta)

	newTier := tier.CandidateTier(newImportance)
	if archived {
		newTier = tier.Background
	}

	event := model.EvolutionEvent{Timestamp: now, Alpha: alpha, R: r, Delta: delta}

	evolved := newImportance != m.Importance || newTier != m.Tier
	if !evolved {
		return Result{Memory: m, Evolved: false, Archived: archived, Reinforced: reinforced, Event: event}
	}

	out := m.Clone()
	out.Importance = newImportance
	out.Tier = newTier
	if out.Metadata.EvolutionHistory == nil {
		out.Metadata.EvolutionHistory = model.NewEvolutionHistory()
	}
	out.Metadata.EvolutionHistory.Append(event)

	return Result{Memory: out, Evolved: true, Archived: archived, Reinforced: reinforced, Event: event}
}

func expNeg(x float64) float64 {
	if x < 0 {
		x = 0
	}
	return math.Exp(-x)
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
