// Package vectorstore implements the Vector Gateway (spec.md §4.A):
// the system of record for memory content, embeddings, and metadata,
// abstracted behind an interface so the tiered engine never depends
// directly on a specific vector database.
package vectorstore

import (
	"context"
	"errors"

	"github.com/nimtier/tiermem/ids"
	"github.com/nimtier/tiermem/tier"
)

// Document is the unit the gateway stores: a memory's opaque payload
// (the codec's Envelope, JSON-encoded) plus its embedding and the
// filterable metadata the query path needs.
type Document struct {
	ID        ids.MemoryID
	OwnerID   string
	Embedding []float32
	Payload   []byte            // codec.Envelope, JSON-encoded
	Filter    map[string]string // flat string metadata for where-clauses
}

// Match is one hit from a similarity or filter query.
type Match struct {
	Document   Document
	Similarity float32
}

// Filter is a flat equality filter over Document.Filter keys, mirroring
// chromem-go's where-clause shape (spec.md §4.A: "filter by exact
// metadata match").
type Filter map[string]string

var (
	// ErrCollectionMissing marks a query against a (tier, owner) pair
	// that has never had a document inserted.
	ErrCollectionMissing = errors.New("vectorstore: collection missing")
	// ErrDimensionMismatch marks an embedding whose length disagrees
	// with the collection's established dimensionality.
	ErrDimensionMismatch = errors.New("vectorstore: embedding dimension mismatch")
	// ErrTransientIO marks a retryable failure from the underlying store.
	ErrTransientIO = errors.New("vectorstore: transient I/O failure")
)

// Gateway is the Vector Gateway's collaborator interface (spec.md
// §4.A). Every tier is a logical partition; within a tier, documents
// are further partitioned per owner for multi-tenant isolation.
type Gateway interface {
	Insert(ctx context.Context, t tier.Tier, doc Document) error
	DeleteByID(ctx context.Context, t tier.Tier, ownerID string, id ids.MemoryID) error
	QueryByFilter(ctx context.Context, t tier.Tier, ownerID string, filter Filter, limit int) ([]Document, error)
	SearchByVector(ctx context.Context, t tier.Tier, ownerID string, embedding []float32, limit int) ([]Match, error)
	Compact(ctx context.Context, t tier.Tier, ownerID string) error
}
