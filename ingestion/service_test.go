package ingestion

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/visacoach/crawler"
	"github.com/fabfab/visacoach/embeddings"
	"github.com/fabfab/visacoach/index"
)

type stubStore struct {
	meta    index.Meta
	entries []index.Entry
	builds  int
	err     error
}

func (s *stubStore) Build(_ context.Context, meta index.Meta, entries []index.Entry) error {
	if s.err != nil {
		return s.err
	}
	s.builds++
	s.meta = meta
	s.entries = entries
	return nil
}

func (s *stubStore) Load(context.Context) (index.Index, error) {
	if s.builds == 0 {
		return nil, index.ErrIndexNotFound
	}
	return index.NewMemory(s.meta, s.entries)
}

func (s *stubStore) Clear(context.Context) error { return nil }

var _ index.Store = (*stubStore)(nil)

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("model offline")
}

func (failingEmbedder) Model() string { return "failing" }

func seedCrawl(t *testing.T) *crawler.Store {
	t.Helper()
	dir := t.TempDir()
	store, err := crawler.NewStore(filepath.Join(dir, "pages"), filepath.Join(dir, "files"))
	require.NoError(t, err)
	for url, content := range map[string]string{
		"https://www.sjsu.edu/isss/cpt": "CPT lets F-1 students work in a job related to their major while enrolled.",
		"https://www.sjsu.edu/isss/opt": "OPT provides up to 12 months of work authorization after graduation.",
	} {
		_, err := store.SavePage(crawler.PageRecord{URL: url, Title: "title", Content: content})
		require.NoError(t, err)
	}
	return store
}

func TestIngestBuildsIndex(t *testing.T) {
	crawl := seedCrawl(t)
	store := &stubStore{}
	embedder, err := embeddings.NewHashEmbedder(embeddings.Options{Dimension: 256})
	require.NoError(t, err)
	splitter, err := NewSplitter(40, 10)
	require.NoError(t, err)

	svc := NewService(store, nil, embedder, splitter, quietLogger())
	stats, err := svc.Ingest(context.Background(), crawl.PagesDir, crawl.FilesDir)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Documents)
	assert.Equal(t, len(store.entries), stats.Chunks)
	assert.Greater(t, stats.Chunks, 2)
	assert.Equal(t, 256, stats.Dimension)

	assert.Equal(t, embedder.Model(), store.meta.EmbeddingModel)
	assert.Equal(t, 256, store.meta.Dimension)
	assert.Equal(t, stats.Chunks, store.meta.ChunkCount)
	assert.False(t, store.meta.BuiltAt.IsZero())

	idx, err := store.Load(context.Background())
	require.NoError(t, err)
	query, err := embeddings.EmbedOne(context.Background(), embedder, "work authorization after graduation")
	require.NoError(t, err)
	hits, err := idx.Search(context.Background(), query, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "https://www.sjsu.edu/isss/opt", hits[0].Chunk.Source)
}

func TestIngestWithoutDocuments(t *testing.T) {
	store := &stubStore{}
	embedder, err := embeddings.NewHashEmbedder(embeddings.Options{Dimension: 8})
	require.NoError(t, err)
	splitter, err := NewSplitter(100, 10)
	require.NoError(t, err)

	dir := t.TempDir()
	_, err = NewService(store, nil, embedder, splitter, quietLogger()).Ingest(context.Background(), filepath.Join(dir, "pages"), filepath.Join(dir, "files"))
	require.ErrorIs(t, err, ErrNothingToIndex)
	assert.Zero(t, store.builds)
}

func TestIngestEmbeddingFailureKeepsIndex(t *testing.T) {
	crawl := seedCrawl(t)
	store := &stubStore{}
	splitter, err := NewSplitter(100, 10)
	require.NoError(t, err)

	_, err = NewService(store, nil, failingEmbedder{}, splitter, quietLogger()).Ingest(context.Background(), crawl.PagesDir, crawl.FilesDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model offline")
	assert.Zero(t, store.builds)
}

func TestIngestMissingEmbedder(t *testing.T) {
	svc := NewService(&stubStore{}, nil, nil, nil, nil)
	if _, err := svc.Ingest(context.Background(), "./does-not-matter", ""); err == nil {
		t.Fatal("expected error when embedder is nil")
	}
}

func TestSourcesOf(t *testing.T) {
	chunks := []index.Chunk{
		{Source: "a", Title: "A"}, {Source: "b", Title: "B"}, {Source: "a", Title: "A"},
	}
	sources := SourcesOf(chunks)
	require.Len(t, sources, 2)
	assert.Equal(t, "a", sources[0].ID)
	assert.Equal(t, 2, sources[0].ChunkCount)
	assert.Equal(t, 1, sources[1].ChunkCount)
}
