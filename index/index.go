// Package index stores embedded chunks and answers nearest-neighbour
// queries over them.
package index

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrIndexNotFound is returned by Load before any index has been built.
	ErrIndexNotFound = errors.New("index not found: run ingestion first")
	// ErrIndexCorrupt is returned when stored index data fails verification.
	ErrIndexCorrupt = errors.New("index corrupt")
)

// Chunk is a window of a source document together with its provenance.
type Chunk struct {
	Text   string `json:"text"`
	Source string `json:"source"`
	Title  string `json:"title"`
	// Start is the rune offset of Text within the parent document.
	Start int `json:"start"`
}

// Entry is a chunk with its embedding.
type Entry struct {
	Chunk  Chunk
	Vector []float32
}

// Hit is a search result. Score is cosine similarity.
type Hit struct {
	Chunk Chunk
	Score float64
}

// Meta describes how an index was built.
type Meta struct {
	EmbeddingModel string    `json:"embedding_model"`
	Dimension      int       `json:"dimension"`
	ChunkCount     int       `json:"chunk_count"`
	BuiltAt        time.Time `json:"built_at"`
}

// Index is a read-only searchable collection. Implementations are safe for
// concurrent use.
type Index interface {
	// Search returns at most k hits by descending score. Equal scores keep
	// insertion order.
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)
	Meta() Meta
}

// Store builds and loads an index at a fixed location.
type Store interface {
	// Build replaces any existing index with entries. Readers observe either
	// the previous index or the complete new one.
	Build(ctx context.Context, meta Meta, entries []Entry) error
	Load(ctx context.Context) (Index, error)
	// Clear removes the index. Clearing a missing index is not an error.
	Clear(ctx context.Context) error
}

// EmbeddingMismatchError reports a query-time embedder that does not match
// the one used at build time.
type EmbeddingMismatchError struct {
	IndexModel string
	QueryModel string
	IndexDim   int
	QueryDim   int
}

func (e *EmbeddingMismatchError) Error() string {
	if e.IndexDim != e.QueryDim {
		return fmt.Sprintf("embedding mismatch: index dimension %d, query dimension %d", e.IndexDim, e.QueryDim)
	}
	return fmt.Sprintf("embedding mismatch: index built with %q, query uses %q", e.IndexModel, e.QueryModel)
}

// CheckModel compares the embedder identity an index was built with against
// the one used for queries.
func CheckModel(meta Meta, queryModel string) error {
	if meta.EmbeddingModel != "" && meta.EmbeddingModel != queryModel {
		return &EmbeddingMismatchError{IndexModel: meta.EmbeddingModel, QueryModel: queryModel}
	}
	return nil
}

func validateEntries(meta Meta, entries []Entry) error {
	if meta.Dimension <= 0 {
		return fmt.Errorf("index dimension must be positive, got %d", meta.Dimension)
	}
	for i, entry := range entries {
		if len(entry.Vector) != meta.Dimension {
			return fmt.Errorf("entry %d has dimension %d, want %d", i, len(entry.Vector), meta.Dimension)
		}
	}
	return nil
}
