package embedder

import (
	"context"
	"hash/fnv"
	"math"
)

// Mock is a deterministic, hash-based embedder for tests and local
// development, generalized from a fixed 384-dim mock into a
// caller-chosen dimensionality so it can stand in for whatever
// embedding model general.embedding_dim names.
type Mock struct {
	dimensions int
}

// NewMock creates a deterministic embedder producing unit vectors of
// the given dimensionality.
func NewMock(dimensions int) *Mock {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &Mock{dimensions: dimensions}
}

// Embed hashes text with FNV-1a and expands the hash into a
// deterministic pseudo-random vector via a linear congruential
// generator, then normalizes it to unit length. Equal text always
// yields an equal embedding.
func (m *Mock) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, m.dimensions)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(vec), nil
}

// Dimensions returns the embedding size.
func (m *Mock) Dimensions() int { return m.dimensions }

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = v / norm
	}
	return out
}
