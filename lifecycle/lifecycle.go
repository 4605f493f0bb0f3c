// Package lifecycle implements the Lifecycle Manager (spec.md §4.I):
// the periodic orchestrator that refreshes stats, triggers
// consolidation, runs the evolution pass, re-evaluates tier
// membership, and cleans up stale or over-capacity memories.
package lifecycle

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/nimtier/tiermem/config"
	"github.com/nimtier/tiermem/consolidator"
	"github.com/nimtier/tiermem/evolver"
	"github.com/nimtier/tiermem/ids"
	"github.com/nimtier/tiermem/metrics"
	"github.com/nimtier/tiermem/model"
	"github.com/nimtier/tiermem/scorer"
	"github.com/nimtier/tiermem/service"
	"github.com/nimtier/tiermem/tier"
)

// Verifier is an optional capability a gateway implementation can
// expose; the Lifecycle Manager calls it after a pass exhausts its
// retries (spec.md §4.I: "on final failure the manager calls an
// integrity-verify hook on the gateway").
type Verifier interface {
	VerifyIntegrity(ctx context.Context) error
}

// Clock is the minimal time source the manager needs.
type Clock interface {
	Now() time.Time
}

// Manager is the Lifecycle Manager.
type Manager struct {
	svc      service.Manager
	policy   *tier.Policy
	cfg      *config.Store
	clock    Clock
	verifier Verifier
	log      zerolog.Logger

	scheduler *cron.Cron

	runMu               sync.Mutex // single-flight guard, spec.md §5
	lastConsolidationAt time.Time
	consolidationRuns   int64

	tombstoneMu sync.Mutex
	tombstones  map[ids.MemoryID]tombstoneEntry // pre-merge id -> forwarding entry

	markMu sync.Mutex
	marked map[ids.MemoryID]time.Time // candidate id -> pass it was first marked

	errCh chan error
}

// tombstoneEntry is one hop of the forwarding table left by a
// consolidation merge (SPEC_FULL.md §3: "a caller holding a pre-merge
// id can resolve it forward").
type tombstoneEntry struct {
	newID    ids.MemoryID
	mergedAt time.Time
}

// New wires a Lifecycle Manager. verifier may be nil if the gateway
// implementation doesn't support integrity verification.
func New(svc service.Manager, policy *tier.Policy, cfg *config.Store, clk Clock, verifier Verifier, log zerolog.Logger) *Manager {
	return &Manager{
		svc:                 svc,
		policy:              policy,
		cfg:                 cfg,
		clock:               clk,
		verifier:            verifier,
		log:                 log,
		scheduler:           cron.New(),
		lastConsolidationAt: clk.Now(),
		tombstones:          make(map[ids.MemoryID]tombstoneEntry),
		marked:              make(map[ids.MemoryID]time.Time),
		errCh:               make(chan error, 8),
	}
}

// ResolveID follows the tombstone forwarding table left by
// consolidation merges (spec.md §9's tombstone Open Question), so a
// caller holding a pre-merge id can still reach the survivor it was
// folded into. Chains are followed to their end, since a survivor can
// itself be merged away in a later consolidation run. ok is false if
// id was never tombstoned, or its entry has since aged out.
func (m *Manager) ResolveID(id ids.MemoryID) (resolved ids.MemoryID, ok bool) {
	m.tombstoneMu.Lock()
	defer m.tombstoneMu.Unlock()
	current := id
	for {
		entry, found := m.tombstones[current]
		if !found {
			break
		}
		current = entry.newID
		ok = true
	}
	return current, ok
}

// recordTombstones adds one forwarding entry per merged member and
// prunes entries older than the consolidation time threshold, so the
// table doesn't grow without bound across the process lifetime.
func (m *Manager) recordTombstones(tombstones []consolidator.Tombstone, now time.Time, maxAge time.Duration) {
	m.tombstoneMu.Lock()
	defer m.tombstoneMu.Unlock()
	for _, ts := range tombstones {
		m.tombstones[ts.OldID] = tombstoneEntry{newID: ts.NewID, mergedAt: ts.MergedAt}
	}
	if maxAge <= 0 {
		return
	}
	for id, entry := range m.tombstones {
		if now.Sub(entry.mergedAt) > maxAge {
			delete(m.tombstones, id)
		}
	}
}

// Errors returns a channel the caller can drain for background-pass
// failures (spec.md §4.I: "reports via the error channel").
func (m *Manager) Errors() <-chan error { return m.errCh }

// StartSchedule registers a cron job that runs RunOnce at the
// configured cleanup interval, and returns the stop function.
func (m *Manager) StartSchedule(ctx context.Context) (func(), error) {
	cfg := m.cfg.Snapshot()
	spec := "@every " + cfg.General.CleanupInterval.String()
	_, err := m.scheduler.AddFunc(spec, func() {
		if err := m.RunOnce(ctx); err != nil {
			m.log.Error().Err(err).Msg("lifecycle pass failed")
		}
	})
	if err != nil {
		return nil, err
	}
	m.scheduler.Start()
	return func() { m.scheduler.Stop() }, nil
}

// RunOnce executes one full lifecycle pass with exponential-backoff
// retry (spec.md §4.I: "the whole pass is retried with exponential
// backoff (default: 3 attempts, initial delay 1s, doubling)").
func (m *Manager) RunOnce(ctx context.Context) error {
	if !m.runMu.TryLock() {
		// a pass is already in flight; passes MUST NOT overlap (spec.md §5).
		return nil
	}
	defer m.runMu.Unlock()

	cfg := m.cfg.Snapshot()
	attempts := cfg.General.RetryAttempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := cfg.General.RetryInitialDelay
	if delay <= 0 {
		delay = time.Second
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
		if err := m.pass(ctx); err != nil {
			lastErr = err
			m.log.Warn().Err(err).Int("attempt", attempt+1).Msg("lifecycle pass attempt failed")
			continue
		}
		return nil
	}

	metrics.LifecyclePassFailures.Inc()
	if m.verifier != nil {
		if verr := m.verifier.VerifyIntegrity(ctx); verr != nil {
			m.log.Error().Err(verr).Msg("integrity verification failed after exhausted retries")
		}
	}
	select {
	case m.errCh <- lastErr:
	default:
	}
	return lastErr
}

// pass runs the five steps of spec.md §4.I once, without retry.
func (m *Manager) pass(ctx context.Context) error {
	now := m.clock.Now()

	// 1. refresh stats
	stats, err := m.svc.Stats(ctx)
	if err != nil {
		return err
	}
	for t, n := range stats.PerTierCount {
		metrics.TierPopulation.WithLabelValues(t).Set(float64(n))
	}

	cfg := m.cfg.Snapshot()

	// 2. consolidation trigger
	if stats.TotalMemories > cfg.Consolidation.MemoryThreshold ||
		now.Sub(m.lastConsolidationAt) > cfg.Consolidation.TimeThreshold {
		if _, err := m.consolidate(ctx, now); err != nil {
			return err
		}
	}

	// 3. evolution pass
	if err := m.evolve(ctx, now); err != nil {
		return err
	}

	// 4. tier management, core -> active -> background
	if err := m.manageTiers(ctx, now); err != nil {
		return err
	}

	// 5. cleanup
	if err := m.cleanup(ctx, now); err != nil {
		return err
	}

	return nil
}

// ForceConsolidation is the on-demand entry point that runs only step
// 2 (spec.md §4.I: "forceConsolidation() ... runs only step 2").
func (m *Manager) ForceConsolidation(ctx context.Context) (consolidator.Stats, error) {
	return m.consolidate(ctx, m.clock.Now())
}

func (m *Manager) consolidate(ctx context.Context, now time.Time) (consolidator.Stats, error) {
	runID := ids.NewRunID()
	cfg := m.cfg.Snapshot()
	all, err := m.svc.AllMemories(ctx)
	if err != nil {
		return consolidator.Stats{}, err
	}

	params := consolidator.Params{
		Threshold:      cfg.Consolidation.Threshold,
		MaxClusterSize: cfg.Consolidation.MaxClusterSize,
		MaxAccessCount: cfg.Consolidation.MaxAccessCount,
		Scorer:         scorerParams(cfg),
	}
	result := consolidator.Run(all, now, params)
	m.log.Info().
		Str("run_id", runID.String()).
		Int("candidates", len(all)).
		Int("tombstones", len(result.Tombstones)).
		Msg("consolidation run")

	m.recordTombstones(result.Tombstones, now, cfg.Consolidation.TimeThreshold)

	for _, ts := range result.Tombstones {
		if err := m.svc.Delete(ctx, ts.OldID); err != nil {
			m.log.Warn().Err(err).
				Str("run_id", runID.String()).
				Str("cluster_id", ts.ClusterID.String()).
				Str("id", ts.OldID.String()).
				Msg("failed to delete consolidated member")
		}
	}

	tombstoned := make(map[ids.MemoryID]struct{}, len(result.Tombstones))
	for _, ts := range result.Tombstones {
		tombstoned[ts.OldID] = struct{}{}
	}
	for _, survivor := range result.Survivors {
		if _, wasTombstoned := tombstoned[survivor.ID]; wasTombstoned {
			continue // this survivor is a member that got merged away; skip
		}
		if isNewMergeResult(survivor, result.Tombstones) {
			if err := m.svc.PutConsolidated(ctx, survivor); err != nil {
				m.log.Warn().Err(err).Msg("failed to persist consolidated memory")
			}
		}
	}

	m.lastConsolidationAt = now
	m.consolidationRuns++
	metrics.ConsolidationRuns.Inc()
	metrics.ConsolidationMembersMerged.Add(float64(result.Stats.MembersMerged))
	return result.Stats, nil
}

func isNewMergeResult(m model.Memory, tombstones []consolidator.Tombstone) bool {
	for _, ts := range tombstones {
		if ts.NewID == m.ID {
			return true
		}
	}
	return false
}

func scorerParams(c *config.Config) scorer.Params {
	return scorer.Params{
		RecencyDecaySeconds: c.Evolution.RecencyDecay.Seconds(),
		MaxAccessCount:      c.Evolution.MaxAccessCount,
	}
}

func (m *Manager) evolve(ctx context.Context, now time.Time) error {
	cfg := m.cfg.Snapshot()
	params := evolver.Params{
		Scorer:                 scorerParams(cfg),
		MaxAge:                 cfg.Evolution.MaxAge,
		AgingRate:              cfg.Evolution.AgingRate,
		ReinforcementThreshold: cfg.Evolution.ReinforcementThreshold,
		ArchivalThreshold:      cfg.Evolution.ArchivalThreshold,
		ImportanceChangeRate:   cfg.Evolution.ImportanceChangeRate,
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for _, t := range tier.All {
		t := t
		g.Go(func() error {
			members, err := m.svc.GetByTier(gctx, t, 0)
			if err != nil {
				return err
			}
			for _, mem := range members {
				result := evolver.Evolve(mem, now, params)
				if !result.Evolved {
					continue
				}
				if err := m.svc.Update(gctx, result.Memory); err != nil {
					m.log.Warn().Err(err).Str("id", mem.ID.String()).Msg("failed to persist evolved memory")
				}
			}
			return nil
		})
	}
	err := g.Wait()
	metrics.EvolutionPassDuration.Observe(time.Since(start).Seconds())
	return err
}

// manageTiers walks the tiers one after another in tier.All's
// core -> active -> background order, re-evaluating each member's tier
// membership with the current-score formula and applying at most one
// transition per memory per pass (spec.md §4.I step 4): a memory moved
// into a tier that is walked later in the same pass is skipped there.
func (m *Manager) manageTiers(ctx context.Context, now time.Time) error {
	cfg := m.cfg.Snapshot()
	sp := scorerParams(cfg)

	transitioned := make(map[ids.MemoryID]struct{})
	for _, t := range tier.All {
		members, err := m.svc.GetByTier(ctx, t, 0)
		if err != nil {
			return err
		}
		for _, mem := range members {
			if _, done := transitioned[mem.ID]; done {
				continue
			}
			current := scorer.Current(scorer.CurrentInput{
				BaseImportance:   mem.Importance,
				AgeSeconds:       now.Sub(mem.CreatedAt).Seconds(),
				AccessCount:      mem.AccessCount,
				ContextRelevance: mem.Metadata.ContextRelevance,
			}, sp)

			next := m.policy.NextTier(tier.PromotionInput{
				Tier:            t,
				Importance:      current,
				AccessCount:     mem.AccessCount,
				AccessFrequency: model.AccessFrequency(mem.AccessCount, sp.MaxAccessCount),
				LastAccessedAt:  mem.LastAccessedAt,
				CreatedAt:       mem.CreatedAt,
				Now:             now,
			})
			if next == t {
				continue
			}
			mem.Importance = current
			if err := m.svc.TransitionTier(ctx, mem, next); err != nil {
				m.log.Warn().Err(err).Str("id", mem.ID.String()).Msg("tier transition failed")
				continue
			}
			transitioned[mem.ID] = struct{}{}
		}
	}
	return nil
}

// cleanup applies spec.md §4.I step 5: background-tier age+importance
// eviction, a bounded stale sweep, and over-capacity trimming. The
// first two are soft-deleted: a candidate carries a "marked" state for
// one full pass before cleanup actually deletes it (SPEC_FULL.md §3's
// grace window), giving a retrieve already in flight a chance to
// finish before the row disappears underneath it. Over-capacity
// trimming deletes immediately: spec.md §8 scenario 4 requires
// maxTotalMemories to be enforced within a single lifecycle pass, which
// a grace window would violate.
func (m *Manager) cleanup(ctx context.Context, now time.Time) error {
	cfg := m.cfg.Snapshot()
	batchSize := cfg.General.CleanupBatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	bgSettings := m.policy.Settings(tier.Background)

	m.pruneMarks(now, 7*cfg.General.CleanupInterval)

	background, err := m.svc.GetByTier(ctx, tier.Background, 0)
	if err != nil {
		return err
	}
	// handled holds every id this pass has already marked or deleted, so
	// no id is both marked and deleted within a single pass.
	handled := make(map[ids.MemoryID]struct{})
	for _, mem := range background {
		age := now.Sub(mem.CreatedAt)
		maxAge := cfg.Evolution.MaxAge
		if maxAge > 0 && age > maxAge && mem.Importance < bgSettings.DemotionThreshold {
			handled[mem.ID] = struct{}{}
			if deleted, err := m.markOrDelete(ctx, mem.ID, now); err != nil {
				m.log.Warn().Err(err).Str("id", mem.ID.String()).Msg("cleanup delete failed")
			} else if deleted {
				m.log.Debug().Str("id", mem.ID.String()).Msg("background eviction")
			}
		}
	}

	// stale-memory sweep in bounded batches, per tier.
	for _, t := range tier.All {
		retention := m.policy.Settings(t).Retention
		if retention <= 0 {
			continue
		}
		cutoff := now.Add(-retention)
		for {
			stale, err := m.svc.GetStale(ctx, t, cutoff, batchSize)
			if err != nil {
				return err
			}
			if len(stale) == 0 {
				break
			}
			progressed := false
			for _, mem := range stale {
				if _, done := handled[mem.ID]; done {
					continue
				}
				handled[mem.ID] = struct{}{}
				progressed = true
				if _, err := m.markOrDelete(ctx, mem.ID, now); err != nil {
					m.log.Warn().Err(err).Str("id", mem.ID.String()).Msg("stale sweep delete failed")
				}
			}
			if !progressed || len(stale) < batchSize {
				break
			}
		}
	}

	// over-capacity optimisation.
	if cfg.General.MaxTotalMemories > 0 {
		all, err := m.svc.AllMemories(ctx)
		if err != nil {
			return err
		}
		if len(all) > cfg.General.MaxTotalMemories {
			sort.Slice(all, func(i, j int) bool { return all[i].Importance < all[j].Importance })
			excess := len(all) - cfg.General.MaxTotalMemories
			for i := 0; i < excess; i++ {
				if err := m.svc.Delete(ctx, all[i].ID); err != nil {
					m.log.Warn().Err(err).Str("id", all[i].ID.String()).Msg("over-capacity delete failed")
				}
			}
		}
	}

	return nil
}

// markOrDelete implements the soft-delete grace window: the first time
// id qualifies for removal it is only marked; the actual gateway
// delete happens once id has qualified across two consecutive passes.
// deleted reports whether this call performed the delete.
func (m *Manager) markOrDelete(ctx context.Context, id ids.MemoryID, now time.Time) (deleted bool, err error) {
	m.markMu.Lock()
	_, wasMarked := m.marked[id]
	if wasMarked {
		delete(m.marked, id)
	} else {
		m.marked[id] = now
	}
	m.markMu.Unlock()

	if !wasMarked {
		return false, nil
	}
	if err := m.svc.Delete(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

// pruneMarks drops marks that were never revisited by a later pass
// within maxAge, so an id deleted or transitioned away by some other
// path doesn't linger in the mark table forever.
func (m *Manager) pruneMarks(now time.Time, maxAge time.Duration) {
	if maxAge <= 0 {
		return
	}
	m.markMu.Lock()
	defer m.markMu.Unlock()
	for id, markedAt := range m.marked {
		if now.Sub(markedAt) > maxAge {
			delete(m.marked, id)
		}
	}
}
