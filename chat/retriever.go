package chat

import (
	"context"
	"fmt"

	"github.com/fabfab/visacoach/embeddings"
	"github.com/fabfab/visacoach/index"
)

const DefaultK = 4

// Retriever embeds a question and returns the k most similar chunks.
type Retriever struct {
	embedder embeddings.Embedder
	index    index.Index
	k        int
}

// NewRetriever refuses an index that was built with a different embedder
// than the one used for queries.
func NewRetriever(embedder embeddings.Embedder, idx index.Index, k int) (*Retriever, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder not configured")
	}
	if idx == nil {
		return nil, fmt.Errorf("index not configured")
	}
	if k < 1 {
		return nil, fmt.Errorf("retrieval k must be at least 1, got %d", k)
	}
	if err := index.CheckModel(idx.Meta(), embedder.Model()); err != nil {
		return nil, err
	}
	return &Retriever{embedder: embedder, index: idx, k: k}, nil
}

func (r *Retriever) K() int { return r.k }

func (r *Retriever) Meta() index.Meta { return r.index.Meta() }

// Retrieve returns at most k hits, fewer when the index holds fewer chunks.
func (r *Retriever) Retrieve(ctx context.Context, query string) ([]index.Hit, error) {
	vector, err := embeddings.EmbedOne(ctx, r.embedder, query)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	meta := r.index.Meta()
	if len(vector) != meta.Dimension {
		return nil, &index.EmbeddingMismatchError{
			IndexModel: meta.EmbeddingModel,
			QueryModel: r.embedder.Model(),
			IndexDim:   meta.Dimension,
			QueryDim:   len(vector),
		}
	}

	hits, err := r.index.Search(ctx, vector, r.k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	return hits, nil
}
