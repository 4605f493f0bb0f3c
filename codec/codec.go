// Package codec implements the Compression Codec (spec.md §4.C): it
// serializes a memory's stable fields, compresses them at a
// tier-specific target ratio, and decompresses on read.
//
// The spec names "a deflate-family algorithm" explicitly; no example
// repository in the reference corpus imports a third-party
// compression library, so this is built on the standard library's
// compress/flate, which is exactly that family (see DESIGN.md for the
// stdlib justification this project's process requires).
package codec

import (
	"bytes"
	"compress/flate"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
)

// EvolutionRecord mirrors model.EvolutionEvent for storage. codec stays
// dependency-free of model, the same way CreatedAt/LastAccessedAt are
// already carried as raw epoch millis rather than time.Time.
type EvolutionRecord struct {
	Timestamp int64   `json:"timestamp"`
	Alpha     float64 `json:"alpha"`
	R         float64 `json:"r"`
	Delta     float64 `json:"delta"`
}

// Payload is the stable, serializable subset of a Memory that gets
// compressed. Embedding is excluded: it is fixed-size and stored
// separately by the vector gateway's native vector column.
type Payload struct {
	Content          string            `json:"content"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
	CreatedAt        int64             `json:"createdAt"`
	LastAccessedAt   int64             `json:"lastAccessedAt"`
	AccessCount      int64             `json:"accessCount"`
	Importance       float64           `json:"importance"`
	EvolutionHistory []EvolutionRecord `json:"evolutionHistory,omitempty"`
}

// Envelope is what the codec actually hands to the vector gateway to
// store: the (possibly compressed) bytes plus the annotation the read
// path needs to decide whether to decompress (spec.md §4.C).
type Envelope struct {
	Compressed     bool    `json:"compressed"`
	Data           []byte  `json:"data"`
	OriginalSize   int     `json:"originalSize"`
	CompressedSize int     `json:"compressedSize"`
	Ratio          float64 `json:"ratio"`
}

// Codec compresses/decompresses Payloads at a given effort level and
// tracks aggregate statistics.
type Codec struct {
	minCompressSize int
	stats           Stats
}

// New creates a Codec with the given skip-rule threshold (spec.md
// §4.C: "if serialized size < minCompressSize, store uncompressed").
func New(minCompressSize int) *Codec {
	if minCompressSize <= 0 {
		minCompressSize = 1024
	}
	return &Codec{minCompressSize: minCompressSize}
}

// Effort converts a tier target compression ratio into a flate effort
// level: effort = floor((1 - targetRatio) * 9), per spec.md §4.C.
func Effort(targetRatio float64) int {
	if targetRatio < 0 {
		targetRatio = 0
	}
	if targetRatio > 1 {
		targetRatio = 1
	}
	level := int((1 - targetRatio) * 9)
	if level < flate.NoCompression {
		level = flate.NoCompression
	}
	if level > flate.BestCompression {
		level = flate.BestCompression
	}
	return level
}

// Compress serializes p, and, if it clears minCompressSize, compresses
// it at the given effort level. On any compression error it silently
// falls back to the uncompressed serialization: "on compression error
// the codec returns the uncompressed form (never fails the parent
// write)" (spec.md §4.C).
func (c *Codec) Compress(p Payload, targetRatio float64) (Envelope, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("codec: marshal payload: %w", err)
	}
	original := len(raw)

	if original < c.minCompressSize {
		c.stats.recordSkip(original)
		return Envelope{Compressed: false, Data: raw, OriginalSize: original, CompressedSize: original, Ratio: 1}, nil
	}

	effort := Effort(targetRatio)
	compressed, err := deflate(raw, effort)
	if err != nil {
		// degrade to uncompressed rather than fail the write.
		c.stats.recordSkip(original)
		return Envelope{Compressed: false, Data: raw, OriginalSize: original, CompressedSize: original, Ratio: 1}, nil
	}

	ratio := float64(len(compressed)) / float64(original)
	c.stats.recordCompress(original, len(compressed))
	return Envelope{
		Compressed:     true,
		Data:           compressed,
		OriginalSize:   original,
		CompressedSize: len(compressed),
		Ratio:          ratio,
	}, nil
}

// Decompress reverses Compress. It is idempotent on uncompressed
// input: an Envelope with Compressed=false is returned as-is.
func (c *Codec) Decompress(e Envelope) (Payload, error) {
	raw := e.Data
	if e.Compressed {
		var err error
		raw, err = inflate(e.Data)
		if err != nil {
			return Payload{}, fmt.Errorf("codec: inflate: %w", err)
		}
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, fmt.Errorf("codec: unmarshal payload: %w", err)
	}
	return p, nil
}

// Stats returns a snapshot of the codec's cumulative statistics.
func (c *Codec) Stats() StatsSnapshot { return c.stats.snapshot() }

func deflate(raw []byte, effort int) ([]byte, error) {
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, effort)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func inflate(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	return io.ReadAll(r)
}

// Stats accumulates the codec's aggregate statistics
// (spec.md §4.C: "cumulative original/compressed sizes, number of
// memories compressed, exponential moving ratio"), guarded so
// concurrent writers/readers never race (spec.md §5: stats counters
// updated atomically, not behind per-id locks).
type Stats struct {
	mu               sync.Mutex
	totalOriginal    int64
	totalCompressed  int64
	compressedCount  int64
	skippedCount     int64
	emaRatio         float64
	emaInitialized   atomic.Bool
}

const emaAlpha = 0.2

func (s *Stats) recordCompress(original, compressed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalOriginal += int64(original)
	s.totalCompressed += int64(compressed)
	s.compressedCount++
	ratio := float64(compressed) / float64(original)
	if s.emaInitialized.Load() {
		s.emaRatio = emaAlpha*ratio + (1-emaAlpha)*s.emaRatio
	} else {
		s.emaRatio = ratio
		s.emaInitialized.Store(true)
	}
}

func (s *Stats) recordSkip(original int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalOriginal += int64(original)
	s.totalCompressed += int64(original)
	s.skippedCount++
}

// StatsSnapshot is a point-in-time read of Stats.
type StatsSnapshot struct {
	TotalOriginalBytes   int64
	TotalCompressedBytes int64
	CompressedCount      int64
	SkippedCount         int64
	EMARatio             float64
}

func (s *Stats) snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		TotalOriginalBytes:   s.totalOriginal,
		TotalCompressedBytes: s.totalCompressed,
		CompressedCount:      s.compressedCount,
		SkippedCount:         s.skippedCount,
		EMARatio:             s.emaRatio,
	}
}
