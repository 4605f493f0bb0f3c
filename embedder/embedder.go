// Package embedder defines the Embedder collaborator the engine
// depends on but never implements against a specific model (spec.md
// §4: "the engine treats embedding generation as an external
// black box").
package embedder

import "context"

// Embedder converts text into a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}
