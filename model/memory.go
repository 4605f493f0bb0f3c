// Package model defines Memory, the central entity of the tiered
// memory engine (spec.md §3), and its invariants.
package model

import (
	"fmt"
	"time"

	"github.com/nimtier/tiermem/ids"
	"github.com/nimtier/tiermem/tier"
)

// MaxContentBytes is the spec's ceiling on decompressed content size
// (spec.md §3: "content: textual payload (<= 64 KiB after decompression)").
const MaxContentBytes = 64 * 1024

// Memory is the central entity: a piece of text, its embedding, and
// the bookkeeping that drives its tier lifecycle.
type Memory struct {
	ID         ids.MemoryID
	OwnerID    string
	Content    string
	Embedding  []float32
	Tier       tier.Tier
	Importance float64

	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    int64

	Metadata Metadata
}

// Draft is the caller-supplied input to Store (spec.md §4.H): the
// fields a caller controls before the engine assigns identity and
// bookkeeping.
type Draft struct {
	OwnerID   string
	Content   string
	Embedding []float32
	Metadata  Metadata
}

// Clone returns a deep copy of m so callers holding a reference can't
// mutate engine-owned state (e.g. a cached entry).
func (m Memory) Clone() Memory {
	cp := m
	if m.Embedding != nil {
		cp.Embedding = append([]float32(nil), m.Embedding...)
	}
	cp.Metadata = m.Metadata.Clone()
	return cp
}

// AccessFrequency computes accessFrequency(accessCount) from spec.md
// §4.D: min(n / maxAccessCount, 1).
func AccessFrequency(accessCount int64, maxAccessCount int64) float64 {
	if maxAccessCount <= 0 {
		return 0
	}
	f := float64(accessCount) / float64(maxAccessCount)
	if f > 1 {
		return 1
	}
	if f < 0 {
		return 0
	}
	return f
}

// CheckInvariants validates the subset of spec.md §3's invariants that
// are checkable on a single Memory value in isolation (2, 3, 4 require
// only this snapshot; 1, 5, 6, 7 are cross-memory/store invariants
// enforced by service and cache, not here).
func (m Memory) CheckInvariants(now time.Time) error {
	if m.Importance < 0 || m.Importance > 1 {
		return fmt.Errorf("importance out of [0,1]: %f", m.Importance)
	}
	if m.CreatedAt.After(m.LastAccessedAt) {
		return fmt.Errorf("createdAt (%v) after lastAccessedAt (%v)", m.CreatedAt, m.LastAccessedAt)
	}
	if m.LastAccessedAt.After(now) {
		return fmt.Errorf("lastAccessedAt (%v) after now (%v)", m.LastAccessedAt, now)
	}
	if m.AccessCount < 0 {
		return fmt.Errorf("accessCount negative: %d", m.AccessCount)
	}
	if len(m.Content) > MaxContentBytes {
		return fmt.Errorf("content exceeds %d bytes", MaxContentBytes)
	}
	return nil
}
