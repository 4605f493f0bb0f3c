package service

import (
	"context"
	"time"

	"github.com/nimtier/tiermem/ids"
	"github.com/nimtier/tiermem/model"
	"github.com/nimtier/tiermem/tier"
)

// Manager is the narrow interface the Lifecycle Manager depends on
// (spec.md §9: "the manager depends on that interface only", breaking
// the cyclic reference between manager and service by dependency
// direction). *Service satisfies it; lifecycle tests can substitute a
// smaller fake.
type Manager interface {
	Get(ctx context.Context, id ids.MemoryID) (model.Memory, error)
	GetEvolutionHistory(ctx context.Context, id ids.MemoryID) ([]model.EvolutionEvent, error)
	Update(ctx context.Context, m model.Memory) error
	Delete(ctx context.Context, id ids.MemoryID) error
	GetByTier(ctx context.Context, t tier.Tier, limit int) ([]model.Memory, error)
	GetStale(ctx context.Context, t tier.Tier, cutoff time.Time, limit int) ([]model.Memory, error)
	TransitionTier(ctx context.Context, m model.Memory, newTier tier.Tier) error
	AllMemories(ctx context.Context) ([]model.Memory, error)
	Stats(ctx context.Context) (Stats, error)
	// PutConsolidated registers and persists a freshly merged memory
	// (one with a newly minted id that never went through Store),
	// produced by the Consolidator (spec.md §4.F).
	PutConsolidated(ctx context.Context, m model.Memory) error
}

var _ Manager = (*Service)(nil)
