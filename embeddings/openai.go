package embeddings

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fabfab/visacoach/config"
)

type openAIEmbedder struct {
	client    *openai.Client
	model     string
	dimension int
}

func NewOpenAIEmbedder(opts Options) Embedder {
	cfg := openai.DefaultConfig(opts.OpenAIAPIKey)
	if opts.OpenAIBaseURL != "" {
		cfg.BaseURL = opts.OpenAIBaseURL
	}

	return &openAIEmbedder{
		client:    openai.NewClientWithConfig(cfg),
		model:     opts.Model,
		dimension: opts.Dimension,
	}
}

func (e *openAIEmbedder) Model() string {
	return ModelID(config.ProviderOpenAI, e.model, e.dimension)
}

func (e *openAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(e.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("create openai embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai returned %d embeddings for %d texts", len(resp.Data), len(texts))
	}

	// The API may return items out of order; Index ties each one to its input.
	results := make([][]float32, len(texts))
	for _, datum := range resp.Data {
		if datum.Index < 0 || datum.Index >= len(texts) {
			return nil, fmt.Errorf("openai embedding index %d out of range", datum.Index)
		}
		if e.dimension > 0 && len(datum.Embedding) != e.dimension {
			return nil, fmt.Errorf("openai embedding dimension mismatch: expected %d, got %d", e.dimension, len(datum.Embedding))
		}
		results[datum.Index] = datum.Embedding
	}

	return results, nil
}
