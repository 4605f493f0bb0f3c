// Package service implements the Memory Service (spec.md §4.H): the
// engine's authoritative public entry point, coordinating the
// Importance Scorer, Tier Cache, Compression Codec, and Vector
// Gateway, and enforcing the invariants in spec.md §3.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	tiermem "github.com/nimtier/tiermem"
	"github.com/nimtier/tiermem/cache"
	"github.com/nimtier/tiermem/clock"
	"github.com/nimtier/tiermem/codec"
	"github.com/nimtier/tiermem/config"
	"github.com/nimtier/tiermem/embedder"
	"github.com/nimtier/tiermem/ids"
	"github.com/nimtier/tiermem/metrics"
	"github.com/nimtier/tiermem/model"
	"github.com/nimtier/tiermem/scorer"
	"github.com/nimtier/tiermem/tier"
	"github.com/nimtier/tiermem/vectorstore"
)

// Service is the Memory Service (spec.md §4.H).
type Service struct {
	cfg      *config.Store
	policy   *tier.Policy
	gateway  vectorstore.Gateway
	cache    *cache.Cache
	codec    *codec.Codec
	embed    embedder.Embedder
	clock    clock.Clock
	registry *registry
	locks    *idLocks
	log      zerolog.Logger
}

// New wires the Memory Service's collaborators. policy must be built
// from the same config.Store snapshot cfg publishes.
func New(cfg *config.Store, policy *tier.Policy, gateway vectorstore.Gateway, tierCache *cache.Cache, c *codec.Codec, embed embedder.Embedder, clk clock.Clock, log zerolog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		policy:   policy,
		gateway:  gateway,
		cache:    tierCache,
		codec:    c,
		embed:    embed,
		clock:    clk,
		registry: newRegistry(),
		locks:    newIDLocks(),
		log:      log,
	}
}

func scorerParams(c *config.Config) scorer.Params {
	return scorer.Params{
		RecencyDecaySeconds: c.Evolution.RecencyDecay.Seconds(),
		MaxAccessCount:      c.Evolution.MaxAccessCount,
	}
}

// Store implements spec.md §4.H's store operation.
func (s *Service) Store(ctx context.Context, draft model.Draft) (ids.MemoryID, error) {
	const op = "service.Store"
	cfg := s.cfg.Snapshot()

	if draft.Content == "" {
		return "", tiermem.NewError(op, tiermem.KindInvalidInput, fmt.Errorf("content must not be empty"))
	}
	if len(draft.Embedding) != cfg.General.EmbeddingDim {
		return "", tiermem.NewError(op, tiermem.KindInvalidInput, fmt.Errorf("embedding dimension %d != %d", len(draft.Embedding), cfg.General.EmbeddingDim))
	}
	if len(draft.Content) > model.MaxContentBytes {
		return "", tiermem.NewError(op, tiermem.KindInvalidInput, fmt.Errorf("content exceeds %d bytes", model.MaxContentBytes))
	}

	now := s.clock.Now()
	id := ids.NewMemoryID(now)

	sp := scorerParams(cfg)
	importance := scorer.Ingestion(scorer.IngestionInput{
		AgeSeconds:       0,
		EmotionalValue:   draft.Metadata.EmotionalValue,
		ContextRelevance: draft.Metadata.ContextRelevance,
		AccessCount:      0,
	}, sp)
	candidateTier := tier.CandidateTier(importance)

	m := model.Memory{
		ID:             id,
		OwnerID:        draft.OwnerID,
		Content:        draft.Content,
		Embedding:      draft.Embedding,
		Tier:           candidateTier,
		Importance:     importance,
		CreatedAt:      now,
		LastAccessedAt: now,
		AccessCount:    0,
		Metadata:       draft.Metadata,
	}

	unlock := s.locks.lockOne(id)
	defer unlock()

	if err := s.writeThrough(ctx, m, cfg); err != nil {
		metrics.StoreCount.WithLabelValues("failure").Inc()
		return "", tiermem.NewError(op, tiermem.KindStorageFailed, err)
	}

	if candidateTier == tier.Core {
		s.cache.Put(tier.Core, m)
	}
	s.registry.put(id, location{OwnerID: m.OwnerID, Tier: m.Tier})
	metrics.StoreCount.WithLabelValues("success").Inc()
	return id, nil
}

// writeThrough compresses m and inserts it into the gateway's
// tier-appropriate collection.
func (s *Service) writeThrough(ctx context.Context, m model.Memory, cfg *config.Config) error {
	settings := cfg.Tiers[m.Tier.String()]
	targetRatio := settings.CompressionRatio

	envelope, err := s.codec.Compress(codec.Payload{
		Content:          m.Content,
		Metadata:         metadataFilter(m.Metadata),
		CreatedAt:        clock.EpochMillis(m.CreatedAt),
		LastAccessedAt:   clock.EpochMillis(m.LastAccessedAt),
		AccessCount:      m.AccessCount,
		Importance:       m.Importance,
		EvolutionHistory: evolutionRecords(m.Metadata.EvolutionHistory),
	}, targetRatio)
	if err != nil {
		return fmt.Errorf("compress: %w", err)
	}

	payload, err := encodeEnvelope(envelope)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	doc := vectorstore.Document{
		ID:        m.ID,
		OwnerID:   m.OwnerID,
		Embedding: m.Embedding,
		Payload:   payload,
		Filter: map[string]string{
			"tier": m.Tier.String(),
		},
	}

	tctx, cancel := context.WithTimeout(ctx, cfg.General.GatewayTimeout)
	defer cancel()
	if err := s.gateway.Insert(tctx, m.Tier, doc); err != nil {
		return err
	}
	return nil
}

func metadataFilter(m model.Metadata) map[string]any {
	out := map[string]any{
		"emotionalValue":   m.EmotionalValue,
		"contextRelevance": m.ContextRelevance,
	}
	if len(m.Tags) > 0 {
		out["tags"] = m.Tags
	}
	if m.Source != "" {
		out["source"] = m.Source
	}
	if len(m.ConnectedMemories) > 0 {
		out["connectedMemories"] = m.ConnectedMemories
	}
	for k, v := range m.Extra {
		out[k] = v
	}
	return out
}

// evolutionRecords flattens a memory's evolution history ring buffer
// into the codec's storage shape, oldest first, so it survives a
// gateway round-trip (spec.md §4.G: "each evolution appends a small
// record ... to the memory's evolutionHistory").
func evolutionRecords(h *model.EvolutionHistory) []codec.EvolutionRecord {
	if h == nil || h.Len() == 0 {
		return nil
	}
	entries := h.Entries()
	out := make([]codec.EvolutionRecord, len(entries))
	for i, e := range entries {
		out[i] = codec.EvolutionRecord{
			Timestamp: clock.EpochMillis(e.Timestamp),
			Alpha:     e.Alpha,
			R:         e.R,
			Delta:     e.Delta,
		}
	}
	return out
}

// Retrieve implements spec.md §4.H's cascading retrieval: core up to
// k, then active up to k-|results|, then background up to remainder.
func (s *Service) Retrieve(ctx context.Context, ownerID string, queryText string, queryEmbedding []float32, k int) ([]model.Memory, error) {
	const op = "service.Retrieve"
	cfg := s.cfg.Snapshot()

	if k <= 0 {
		k = 5
	}

	embedding := queryEmbedding
	if embedding == nil {
		if queryText == "" {
			return nil, tiermem.NewError(op, tiermem.KindInvalidInput, fmt.Errorf("either queryText or queryEmbedding is required"))
		}
		ectx, cancel := context.WithTimeout(ctx, cfg.General.EmbedderTimeout)
		defer cancel()
		var err error
		embedding, err = s.embed.Embed(ectx, queryText)
		if err != nil {
			return nil, tiermem.NewError(op, tiermem.KindTransient, err)
		}
	}

	var results []model.Memory
	for _, t := range tier.All {
		if len(results) >= k {
			break
		}
		remaining := k - len(results)

		gctx, cancel := context.WithTimeout(ctx, cfg.General.GatewayTimeout)
		matches, err := s.gateway.SearchByVector(gctx, t, ownerID, embedding, remaining)
		cancel()
		if err != nil {
			if errors.Is(err, vectorstore.ErrTransientIO) {
				return results, tiermem.NewError(op, tiermem.KindTransient, err)
			}
			// tolerate a tier being briefly unavailable; keep going with
			// what we've got, per spec.md §5's "must tolerate a memory
			// disappearing between search and fetch" tolerance.
			s.log.Warn().Err(err).Str("tier", t.String()).Msg("search failed, continuing cascade")
			continue
		}

		for _, match := range matches {
			m, err := s.decodeDocument(match.Document, t)
			if err != nil {
				s.log.Warn().Err(err).Str("id", match.Document.ID.String()).Msg("skipping undecodable document")
				continue
			}
			if m.OwnerID != ownerID {
				continue
			}
			results = append(results, m)
		}
	}

	if len(results) > k {
		results = results[:k]
	}

	now := s.clock.Now()
	for i := range results {
		results[i].LastAccessedAt = now
		results[i].AccessCount++
	}
	if err := s.UpdateAccess(ctx, results); err != nil {
		s.log.Warn().Err(err).Msg("failed to persist access-metrics update")
	}

	return results, nil
}

func (s *Service) decodeDocument(doc vectorstore.Document, t tier.Tier) (model.Memory, error) {
	envelope, err := decodeEnvelope(doc.Payload)
	if err != nil {
		return model.Memory{}, err
	}
	payload, err := s.codec.Decompress(envelope)
	if err != nil {
		return model.Memory{}, err
	}
	metadata := metadataFromMap(payload.Metadata)
	metadata.EvolutionHistory = evolutionHistoryFromRecords(payload.EvolutionHistory)
	return model.Memory{
		ID:             doc.ID,
		OwnerID:        doc.OwnerID,
		Content:        payload.Content,
		Embedding:      doc.Embedding,
		Tier:           t,
		CreatedAt:      clock.FromEpochMillis(payload.CreatedAt),
		LastAccessedAt: clock.FromEpochMillis(payload.LastAccessedAt),
		AccessCount:    payload.AccessCount,
		Importance:     payload.Importance,
		Metadata:       metadata,
	}, nil
}

// evolutionHistoryFromRecords reverses evolutionRecords, rebuilding the
// ring buffer in its original chronological order.
func evolutionHistoryFromRecords(records []codec.EvolutionRecord) *model.EvolutionHistory {
	if len(records) == 0 {
		return nil
	}
	events := make([]model.EvolutionEvent, len(records))
	for i, r := range records {
		events[i] = model.EvolutionEvent{
			Timestamp: clock.FromEpochMillis(r.Timestamp),
			Alpha:     r.Alpha,
			R:         r.R,
			Delta:     r.Delta,
		}
	}
	return model.EvolutionHistoryFromEntries(events)
}

func metadataFromMap(m map[string]any) model.Metadata {
	out := model.Metadata{}
	if v, ok := m["emotionalValue"].(float64); ok {
		out.EmotionalValue = v
	}
	if v, ok := m["contextRelevance"].(float64); ok {
		out.ContextRelevance = v
	}
	if v, ok := m["source"].(string); ok {
		out.Source = v
	}
	extra := map[string]any{}
	for k, v := range m {
		switch k {
		case "emotionalValue", "contextRelevance", "source", "tags", "connectedMemories":
			continue
		default:
			extra[k] = v
		}
	}
	if len(extra) > 0 {
		out.Extra = extra
	}
	return out
}

// UpdateAccess persists the access-metrics update for a batch of
// memories (spec.md §4.H). Locks are acquired in lexicographic id
// order (spec.md §5).
func (s *Service) UpdateAccess(ctx context.Context, memories []model.Memory) error {
	if len(memories) == 0 {
		return nil
	}
	idList := make([]ids.MemoryID, len(memories))
	for i, m := range memories {
		idList[i] = m.ID
	}
	unlock := s.locks.lockMany(idList)
	defer unlock()

	cfg := s.cfg.Snapshot()
	for _, m := range memories {
		if err := s.writeThrough(ctx, m, cfg); err != nil {
			return tiermem.NewError("service.UpdateAccess", tiermem.KindStorageFailed, err)
		}
		if m.Tier == tier.Core {
			s.cache.Put(tier.Core, m)
		}
	}
	return nil
}

// Update persists a caller-modified Memory in full (the public API's
// `update` operation, spec.md §6). Callers such as the Evolver may
// legitimately change m.Tier (spec.md §4.G); when they do, Update
// performs the same logical move TransitionTier does, so the old
// tier's collection and cache never keep a stale duplicate row
// (spec.md §3 invariant 1).
func (s *Service) Update(ctx context.Context, m model.Memory) error {
	const op = "service.Update"
	loc, ok := s.registry.get(m.ID)
	if !ok {
		return tiermem.NewError(op, tiermem.KindNotFound, fmt.Errorf("unknown id %s", m.ID))
	}
	unlock := s.locks.lockOne(m.ID)
	defer unlock()

	cfg := s.cfg.Snapshot()
	if err := s.writeThrough(ctx, m, cfg); err != nil {
		return tiermem.NewError(op, tiermem.KindStorageFailed, err)
	}

	if loc.Tier != m.Tier {
		gctx, cancel := context.WithTimeout(ctx, cfg.General.GatewayTimeout)
		if err := s.gateway.DeleteByID(gctx, loc.Tier, loc.OwnerID, m.ID); err != nil {
			s.log.Warn().Err(err).Str("id", m.ID.String()).Msg("Update: failed to delete stale tier row, leaving orphan for compact")
		}
		cancel()
		s.cache.Invalidate(loc.Tier, m.ID)
		metrics.TierTransitions.WithLabelValues(loc.Tier.String(), m.Tier.String()).Inc()
	}

	s.cache.Put(m.Tier, m)
	s.registry.put(m.ID, location{OwnerID: m.OwnerID, Tier: m.Tier})
	return nil
}

// Delete removes a memory outright (the public API's `delete`
// operation, spec.md §6). Deleting an unknown id is idempotent.
func (s *Service) Delete(ctx context.Context, id ids.MemoryID) error {
	loc, ok := s.registry.get(id)
	if !ok {
		return nil
	}
	unlock := s.locks.lockOne(id)
	defer unlock()

	cfg := s.cfg.Snapshot()
	gctx, cancel := context.WithTimeout(ctx, cfg.General.GatewayTimeout)
	defer cancel()
	if err := s.gateway.DeleteByID(gctx, loc.Tier, loc.OwnerID, id); err != nil {
		return tiermem.NewError("service.Delete", tiermem.KindStorageFailed, err)
	}
	s.cache.Invalidate(loc.Tier, id)
	s.registry.remove(id)
	return nil
}

// Get fetches a single memory by id, consulting the cache first for
// the core tier only, per spec.md §4.B's advisory-cache contract.
func (s *Service) Get(ctx context.Context, id ids.MemoryID) (model.Memory, error) {
	const op = "service.Get"
	loc, ok := s.registry.get(id)
	if !ok {
		return model.Memory{}, tiermem.NewError(op, tiermem.KindNotFound, fmt.Errorf("unknown id %s", id))
	}

	if loc.Tier == tier.Core {
		if m, hit := s.cache.Get(tier.Core, id); hit {
			return m, nil
		}
	}

	cfg := s.cfg.Snapshot()
	gctx, cancel := context.WithTimeout(ctx, cfg.General.GatewayTimeout)
	defer cancel()
	docs, err := s.gateway.QueryByFilter(gctx, loc.Tier, loc.OwnerID, vectorstore.Filter{}, 0)
	if err != nil {
		return model.Memory{}, tiermem.NewError(op, tiermem.KindTransient, err)
	}
	for _, doc := range docs {
		if doc.ID == id {
			m, err := s.decodeDocument(doc, loc.Tier)
			if err != nil {
				return model.Memory{}, tiermem.NewError(op, tiermem.KindInternal, err)
			}
			return m, nil
		}
	}
	return model.Memory{}, tiermem.NewError(op, tiermem.KindNotFound, fmt.Errorf("id %s not found in gateway", id))
}

// GetEvolutionHistory returns id's evolution history ring buffer
// contents, oldest first, for debugging tier oscillation (spec.md §4.G's
// evolutionHistory field, exposed as a read operation).
func (s *Service) GetEvolutionHistory(ctx context.Context, id ids.MemoryID) ([]model.EvolutionEvent, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.Metadata.EvolutionHistory == nil {
		return nil, nil
	}
	return m.Metadata.EvolutionHistory.Entries(), nil
}

// GetByTier fetches up to limit memories currently registered in tier t.
func (s *Service) GetByTier(ctx context.Context, t tier.Tier, limit int) ([]model.Memory, error) {
	cfg := s.cfg.Snapshot()
	owners := s.registry.ownersInTier(t)
	var out []model.Memory
	for _, owner := range owners {
		if limit > 0 && len(out) >= limit {
			break
		}
		gctx, cancel := context.WithTimeout(ctx, cfg.General.GatewayTimeout)
		docs, err := s.gateway.QueryByFilter(gctx, t, owner, vectorstore.Filter{}, limit)
		cancel()
		if err != nil {
			s.log.Warn().Err(err).Str("owner", owner).Msg("GetByTier: query failed for owner, continuing")
			continue
		}
		for _, doc := range docs {
			m, err := s.decodeDocument(doc, t)
			if err != nil {
				continue
			}
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetStale returns members of tier t whose lastAccessedAt is before
// cutoff, up to limit, for the Lifecycle Manager's cleanup sweep.
func (s *Service) GetStale(ctx context.Context, t tier.Tier, cutoff time.Time, limit int) ([]model.Memory, error) {
	all, err := s.GetByTier(ctx, t, 0)
	if err != nil {
		return nil, err
	}
	var out []model.Memory
	for _, m := range all {
		if m.LastAccessedAt.Before(cutoff) {
			out = append(out, m)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// TransitionTier implements spec.md §4.H's logical move: delete from
// source collection, re-insert into destination, and keep the cache
// and registry authoritative-consistent (spec.md invariant 7).
func (s *Service) TransitionTier(ctx context.Context, m model.Memory, newTier tier.Tier) error {
	const op = "service.TransitionTier"
	if m.Importance < s.policy.MinImportance(newTier) {
		return tiermem.NewError(op, tiermem.KindInvalidTransition, fmt.Errorf("importance %f below minImportance(%s)", m.Importance, newTier))
	}

	unlock := s.locks.lockOne(m.ID)
	defer unlock()

	cfg := s.cfg.Snapshot()
	oldTier := m.Tier
	moved := m
	moved.Tier = newTier

	if err := s.writeThrough(ctx, moved, cfg); err != nil {
		return tiermem.NewError(op, tiermem.KindStorageFailed, err)
	}

	gctx, cancel := context.WithTimeout(ctx, cfg.General.GatewayTimeout)
	defer cancel()
	if err := s.gateway.DeleteByID(gctx, oldTier, m.OwnerID, m.ID); err != nil {
		s.log.Warn().Err(err).Str("id", m.ID.String()).Msg("TransitionTier: failed to delete source, leaving orphan for compact")
	}

	s.cache.Invalidate(oldTier, m.ID)
	if newTier == tier.Core {
		s.cache.Put(tier.Core, moved)
	}
	s.registry.put(m.ID, location{OwnerID: m.OwnerID, Tier: newTier})
	metrics.TierTransitions.WithLabelValues(oldTier.String(), newTier.String()).Inc()
	return nil
}

// PutConsolidated persists a consolidation result as a new memory:
// unlike Update, it does not require the id to already be registered,
// since the Consolidator mints a fresh id for every merge (spec.md
// §3 invariant 6).
func (s *Service) PutConsolidated(ctx context.Context, m model.Memory) error {
	const op = "service.PutConsolidated"
	unlock := s.locks.lockOne(m.ID)
	defer unlock()

	cfg := s.cfg.Snapshot()
	if err := s.writeThrough(ctx, m, cfg); err != nil {
		return tiermem.NewError(op, tiermem.KindStorageFailed, err)
	}
	if m.Tier == tier.Core {
		s.cache.Put(tier.Core, m)
	}
	s.registry.put(m.ID, location{OwnerID: m.OwnerID, Tier: m.Tier})
	return nil
}

// AllMemories fetches every memory across every tier, for the
// Lifecycle Manager's consolidation trigger (spec.md §4.I step 2:
// "fetch all memories, invoke the Consolidator"). The three tiers are
// fetched concurrently (spec.md §5's "cooperative fan-out per
// request" concurrency model); one tier's gateway error aborts the
// others via the shared context.
func (s *Service) AllMemories(ctx context.Context) ([]model.Memory, error) {
	perTier := make([][]model.Memory, len(tier.All))

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range tier.All {
		i, t := i, t
		g.Go(func() error {
			members, err := s.GetByTier(gctx, t, 0)
			if err != nil {
				return err
			}
			perTier[i] = members
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []model.Memory
	for _, members := range perTier {
		out = append(out, members...)
	}
	return out, nil
}

// Stats is the public API's getStats() response (spec.md §6).
type Stats struct {
	TotalMemories      int
	PerTierCount       map[string]int
	AverageImportance  float64
	ConsolidationCount int64
}

// Stats computes spec.md §4.I step 1's refresh-stats snapshot,
// fetching each tier's membership concurrently.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	perTier := make([]int, len(tier.All))
	sums := make([]float64, len(tier.All))

	g, gctx := errgroup.WithContext(ctx)
	for i, t := range tier.All {
		i, t := i, t
		g.Go(func() error {
			members, err := s.GetByTier(gctx, t, 0)
			if err != nil {
				return err
			}
			perTier[i] = len(members)
			for _, m := range members {
				sums[i] += m.Importance
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Stats{}, err
	}

	counts := make(map[string]int, len(tier.All))
	var total int
	var importanceSum float64
	for i, t := range tier.All {
		counts[t.String()] = perTier[i]
		total += perTier[i]
		importanceSum += sums[i]
	}
	avg := 0.0
	if total > 0 {
		avg = importanceSum / float64(total)
	}
	return Stats{
		TotalMemories:     total,
		PerTierCount:      counts,
		AverageImportance: avg,
	}, nil
}
