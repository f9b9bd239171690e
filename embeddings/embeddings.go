package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fabfab/visacoach/config"
)

// BatchSize is the number of texts sent per provider call by EmbedBatched.
const BatchSize = 32

var ErrEmptyEmbedding = errors.New("embedder returned no vector")

// Embedder maps texts to fixed-length vectors. Model identifies the
// provider, model and dimension so an index can detect a query-time embedder
// that differs from the one it was built with.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

type Options struct {
	Provider  string
	Model     string
	Dimension int
	Timeout   time.Duration

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

func NewEmbedder(cfg config.Config) (Embedder, error) {
	opts := Options{
		Provider:      cfg.Embeddings.Provider,
		Model:         cfg.Embeddings.Model,
		Dimension:     cfg.Embeddings.Dimension,
		Timeout:       30 * time.Second,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}

	switch opts.Provider {
	case config.ProviderHash:
		return NewHashEmbedder(opts)
	case config.ProviderOllama:
		return NewOllamaEmbedder(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIEmbedder(opts), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", opts.Provider)
	}
}

// ModelID formats the identity string returned by Embedder.Model.
func ModelID(provider, model string, dimension int) string {
	return fmt.Sprintf("%s:%s:%d", provider, model, dimension)
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 || len(vectors[0]) == 0 {
		return nil, ErrEmptyEmbedding
	}
	return vectors[0], nil
}

// EmbedBatched embeds texts in groups of size. The result is the same as
// embedding every text on its own.
func EmbedBatched(ctx context.Context, e Embedder, texts []string, size int) ([][]float32, error) {
	if size <= 0 {
		size = BatchSize
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		vectors, err := e.Embed(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if len(vectors) != end-start {
			return nil, fmt.Errorf("embedding count mismatch: have %d texts, %d embeddings", end-start, len(vectors))
		}
		out = append(out, vectors...)
	}
	return out, nil
}
