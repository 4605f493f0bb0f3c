// Package tier defines the three memory tiers and the policy that
// governs their capacity, retention, and promotion/demotion behaviour
// (spec.md §4.E).
package tier

// Tier is a sum type replacing the source's stringly-typed tier
// constants (spec.md §9 design note).
type Tier int

const (
	// Core holds the most important, unbounded-retention memories.
	Core Tier = iota
	// Active holds moderately important memories with finite retention.
	Active
	// Background holds low-importance memories subject to eviction.
	Background
)

// All lists every tier in core→active→background order, the order
// the Lifecycle Manager's tier-management step (spec.md §4.I step 4)
// must walk.
var All = []Tier{Core, Active, Background}

func (t Tier) String() string {
	switch t {
	case Core:
		return "core"
	case Active:
		return "active"
	case Background:
		return "background"
	default:
		return "unknown"
	}
}

// CollectionName returns the logical vector-store collection name for
// this tier (spec.md §4.A: "memory_<t>").
func (t Tier) CollectionName() string {
	return "memory_" + t.String()
}

// Parse converts a string tier name back into a Tier.
func Parse(s string) (Tier, bool) {
	switch s {
	case "core":
		return Core, true
	case "active":
		return Active, true
	case "background":
		return Background, true
	default:
		return Background, false
	}
}

// CandidateTier is the straightforward bucket function used at
// ingestion and as a consolidation tie-break (spec.md §4.E):
// >= 0.8 -> core, >= 0.4 -> active, else background.
func CandidateTier(importance float64) Tier {
	switch {
	case importance >= 0.8:
		return Core
	case importance >= 0.4:
		return Active
	default:
		return Background
	}
}

// Step returns the tier one step above t (up) or one step below it
// (!up), and whether such a step exists. Tiers transition only one step at a time per evaluation
// (spec.md §4.E): background -> active -> core.
func (t Tier) Step(up bool) (Tier, bool) {
	switch t {
	case Core:
		if up {
			return Core, false
		}
		return Active, true
	case Active:
		if up {
			return Core, true
		}
		return Background, true
	case Background:
		if up {
			return Active, true
		}
		return Background, false
	default:
		return t, false
	}
}
