package index

import (
	"context"
	"fmt"
	"math"
	"sort"
)

// Memory is an exact cosine-similarity index held in memory. It is
// immutable once constructed.
type Memory struct {
	meta    Meta
	chunks  []Chunk
	vectors [][]float32
	norms   []float64
}

func NewMemory(meta Meta, entries []Entry) (*Memory, error) {
	if err := validateEntries(meta, entries); err != nil {
		return nil, err
	}
	m := &Memory{
		meta:    meta,
		chunks:  make([]Chunk, len(entries)),
		vectors: make([][]float32, len(entries)),
		norms:   make([]float64, len(entries)),
	}
	for i, entry := range entries {
		m.chunks[i] = entry.Chunk
		m.vectors[i] = append([]float32(nil), entry.Vector...)
		m.norms[i] = norm(entry.Vector)
	}
	m.meta.ChunkCount = len(entries)
	return m, nil
}

func (m *Memory) Meta() Meta { return m.meta }

func (m *Memory) Len() int { return len(m.chunks) }

func (m *Memory) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if k < 1 {
		return nil, fmt.Errorf("k must be at least 1, got %d", k)
	}
	if len(vector) != m.meta.Dimension {
		return nil, &EmbeddingMismatchError{
			IndexModel: m.meta.EmbeddingModel,
			QueryModel: m.meta.EmbeddingModel,
			IndexDim:   m.meta.Dimension,
			QueryDim:   len(vector),
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	queryNorm := norm(vector)
	hits := make([]Hit, len(m.chunks))
	for i := range m.chunks {
		hits[i] = Hit{Chunk: m.chunks[i], Score: cosine(vector, queryNorm, m.vectors[i], m.norms[i])}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// cosine returns 0 when either vector is all zeros.
func cosine(a []float32, normA float64, b []float32, normB float64) float64 {
	if normA == 0 || normB == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (normA * normB)
}
