package vectorstore

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/nimtier/tiermem/ids"
	"github.com/nimtier/tiermem/tier"
)

// ChromemGateway is a Gateway backed by chromem-go, generalizing the
// teacher's per-user collection scheme to one collection per
// (tier, ownerID) pair, so a tier transition is a delete-then-insert
// across two independent collections rather than a metadata rewrite
// within one (spec.md §4.A / §4.E).
type ChromemGateway struct {
	db  *chromem.DB
	dim int

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

// NewChromemGateway creates a gateway whose collections enforce the
// given embedding dimensionality.
func NewChromemGateway(dim int) *ChromemGateway {
	return &ChromemGateway{
		db:          chromem.NewDB(),
		dim:         dim,
		collections: make(map[string]*chromem.Collection),
	}
}

func collectionKey(t tier.Tier, ownerID string) string {
	if ownerID == "" {
		ownerID = "global"
	}
	return t.CollectionName() + "__" + ownerID
}

func (g *ChromemGateway) collection(t tier.Tier, ownerID string) (*chromem.Collection, bool) {
	key := collectionKey(t, ownerID)
	g.mu.RLock()
	col, ok := g.collections[key]
	g.mu.RUnlock()
	return col, ok
}

func (g *ChromemGateway) getOrCreateCollection(t tier.Tier, ownerID string) (*chromem.Collection, error) {
	key := collectionKey(t, ownerID)

	g.mu.RLock()
	col, ok := g.collections[key]
	g.mu.RUnlock()
	if ok {
		return col, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if col, ok := g.collections[key]; ok {
		return col, nil
	}

	col, err := g.db.CreateCollection(key, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create collection %s: %v", ErrTransientIO, key, err)
	}
	g.collections[key] = col
	return col, nil
}

func (g *ChromemGateway) Insert(ctx context.Context, t tier.Tier, doc Document) error {
	if g.dim > 0 && len(doc.Embedding) != g.dim {
		return fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(doc.Embedding), g.dim)
	}
	col, err := g.getOrCreateCollection(t, doc.OwnerID)
	if err != nil {
		return err
	}

	metadata := make(map[string]string, len(doc.Filter)+1)
	for k, v := range doc.Filter {
		metadata[k] = v
	}
	metadata["owner_id"] = doc.OwnerID

	err = col.AddDocument(ctx, chromem.Document{
		ID:        doc.ID.String(),
		Content:   string(doc.Payload),
		Embedding: doc.Embedding,
		Metadata:  metadata,
	})
	if err != nil {
		return fmt.Errorf("%w: insert %s: %v", ErrTransientIO, doc.ID, err)
	}
	return nil
}

func (g *ChromemGateway) DeleteByID(ctx context.Context, t tier.Tier, ownerID string, id ids.MemoryID) error {
	col, ok := g.collection(t, ownerID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionMissing, collectionKey(t, ownerID))
	}
	if err := col.Delete(ctx, nil, nil, id.String()); err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrTransientIO, id, err)
	}
	return nil
}

func (g *ChromemGateway) QueryByFilter(ctx context.Context, t tier.Tier, ownerID string, filter Filter, limit int) ([]Document, error) {
	col, ok := g.collection(t, ownerID)
	if !ok {
		return nil, nil
	}

	where := map[string]string{"owner_id": ownerID}
	for k, v := range filter {
		where[k] = v
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > count {
		limit = count
	}

	// chromem-go's Content field carries the payload; filter matching
	// with a zero embedding still restricts by the where-clause because
	// chromem applies filters before ranking.
	zero := make([]float32, g.dim)
	results, err := col.QueryEmbedding(ctx, zero, limit, where, nil)
	if err != nil {
		if isEmptyResultErr(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: query %s: %v", ErrTransientIO, collectionKey(t, ownerID), err)
	}
	return toDocuments(results), nil
}

func (g *ChromemGateway) SearchByVector(ctx context.Context, t tier.Tier, ownerID string, embedding []float32, limit int) ([]Match, error) {
	if g.dim > 0 && len(embedding) != g.dim {
		return nil, fmt.Errorf("%w: got %d want %d", ErrDimensionMismatch, len(embedding), g.dim)
	}
	col, ok := g.collection(t, ownerID)
	if !ok {
		return nil, nil
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	// chromem-go errors if nResults exceeds collection size; retry
	// downward the way the teacher's Query implementation does.
	current := limit
	if current > count {
		current = count
	}
	var results []chromem.Result
	var err error
	for current >= 1 {
		results, err = col.QueryEmbedding(ctx, embedding, current, map[string]string{"owner_id": ownerID}, nil)
		if err == nil {
			break
		}
		if isEmptyResultErr(err) {
			current--
			continue
		}
		return nil, fmt.Errorf("%w: search %s: %v", ErrTransientIO, collectionKey(t, ownerID), err)
	}
	if current < 1 {
		return nil, nil
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		matches = append(matches, Match{
			Document:   toDocument(r),
			Similarity: r.Similarity,
		})
	}
	return matches, nil
}

// Compact is a best-effort hook: chromem-go has no explicit vacuum
// operation, so compaction here means dropping and recreating the
// collection is unnecessary -- the store never grows unbounded because
// the lifecycle manager evicts before insert volume matters. Kept as a
// named operation so callers uniform across gateways don't special-case
// chromem.
func (g *ChromemGateway) Compact(ctx context.Context, t tier.Tier, ownerID string) error {
	return nil
}

func toDocuments(results []chromem.Result) []Document {
	docs := make([]Document, 0, len(results))
	for _, r := range results {
		docs = append(docs, toDocument(r))
	}
	return docs
}

func toDocument(r chromem.Result) Document {
	filter := make(map[string]string, len(r.Metadata))
	owner := ""
	for k, v := range r.Metadata {
		if k == "owner_id" {
			owner = v
			continue
		}
		filter[k] = v
	}
	return Document{
		ID:        ids.MemoryID(r.ID),
		OwnerID:   owner,
		Embedding: r.Embedding,
		Payload:   []byte(r.Content),
		Filter:    filter,
	}
}

// isEmptyResultErr reports whether err is chromem-go's "not enough
// documents" error, which the teacher's implementation retries with a
// smaller nResults rather than surfacing.
func isEmptyResultErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return contains(msg, "nResults must be") || contains(msg, "not enough documents")
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
