package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/visacoach/config"
)

func TestNewEmbedderDefaults(t *testing.T) {
	cfg := config.Config{
		Embeddings: config.EmbeddingConfig{
			Provider:  config.ProviderOllama,
			Model:     "nomic-embed-text",
			Dimension: 3,
		},
		OllamaHost: "http://localhost:11434",
	}

	embedder, err := NewEmbedder(cfg)
	if err != nil {
		t.Fatalf("expected embedder, got error: %v", err)
	}
	if got := embedder.Model(); got != "ollama:nomic-embed-text:3" {
		t.Fatalf("unexpected model id %q", got)
	}
}

func TestNewEmbedderOpenAIMissingKey(t *testing.T) {
	cfg := config.Config{
		Embeddings: config.EmbeddingConfig{
			Provider:  config.ProviderOpenAI,
			Model:     "text-embedding-3-small",
			Dimension: 1536,
		},
	}

	if _, err := NewEmbedder(cfg); err == nil {
		t.Fatal("expected error for missing OPENAI_API_KEY")
	}
}

func TestNewEmbedderUnknownProvider(t *testing.T) {
	cfg := config.Defaults()
	cfg.Embeddings.Provider = "word2vec"

	_, err := NewEmbedder(cfg)
	require.Error(t, err)
}

func TestHashEmbedderIsDeterministicAndNormalised(t *testing.T) {
	e, err := NewEmbedder(config.Defaults())
	require.NoError(t, err)
	assert.Equal(t, "hash:hash-v1:384", e.Model())

	text := "CPT requires a job offer related to your major."
	first, err := EmbedOne(context.Background(), e, text)
	require.NoError(t, err)
	second, err := EmbedOne(context.Background(), e, text)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, first, 384)

	var norm float64
	for _, v := range first {
		norm += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestHashEmbedderCaseInsensitiveTokens(t *testing.T) {
	e, err := NewHashEmbedder(Options{Dimension: 64})
	require.NoError(t, err)

	vectors, err := e.Embed(context.Background(), []string{"OPT Extension", "opt, extension!", ""})
	require.NoError(t, err)

	assert.Equal(t, vectors[0], vectors[1])
	for _, v := range vectors[2] {
		assert.Zero(t, v)
	}
}

func TestHashEmbedderRejectsZeroDimension(t *testing.T) {
	_, err := NewHashEmbedder(Options{})
	require.Error(t, err)
}

type countingEmbedder struct {
	calls [][]string
	err   error
}

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if c.err != nil {
		return nil, c.err
	}
	c.calls = append(c.calls, texts)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text))}
	}
	return out, nil
}

func (c *countingEmbedder) Model() string { return "counting" }

func TestEmbedBatchedMatchesSingleCalls(t *testing.T) {
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	stub := &countingEmbedder{}

	vectors, err := EmbedBatched(context.Background(), stub, texts, 2)
	require.NoError(t, err)

	require.Len(t, stub.calls, 3)
	assert.Equal(t, []string{"eeeee"}, stub.calls[2])
	for i, text := range texts {
		single, err := EmbedOne(context.Background(), &countingEmbedder{}, text)
		require.NoError(t, err)
		assert.Equal(t, single, vectors[i])
	}
}

func TestEmbedBatchedWrapsErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := EmbedBatched(context.Background(), &countingEmbedder{err: boom}, []string{"x"}, 0)
	require.ErrorIs(t, err, boom)
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		if req.Prompt == "fail" {
			http.Error(w, "model not loaded", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float64{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(Options{Model: "nomic-embed-text", Dimension: 3, OllamaHost: srv.URL + "/"})
	vectors, err := e.Embed(context.Background(), []string{"sevis", "i-20"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.InDelta(t, 0.2, vectors[1][1], 1e-6)

	_, err = e.Embed(context.Background(), []string{"fail"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")

	mismatched := NewOllamaEmbedder(Options{Model: "nomic-embed-text", Dimension: 4, OllamaHost: srv.URL})
	_, err = mismatched.Embed(context.Background(), []string{"sevis"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dimension mismatch")
}

func TestOpenAIEmbedderOrdersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","data":[
			{"object":"embedding","index":1,"embedding":[0,1]},
			{"object":"embedding","index":0,"embedding":[1,0]}
		]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(Options{Model: "text-embedding-3-small", Dimension: 2, OpenAIAPIKey: "test", OpenAIBaseURL: srv.URL})
	assert.Equal(t, "openai:text-embedding-3-small:2", e.Model())

	vectors, err := e.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)
}
