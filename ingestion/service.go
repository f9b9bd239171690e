package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fabfab/visacoach/embeddings"
	"github.com/fabfab/visacoach/index"
	"github.com/fabfab/visacoach/knowledge"
)

// ErrNothingToIndex is returned when the crawl output contains no usable
// text. The existing index is left untouched.
var ErrNothingToIndex = errors.New("no documents to index")

// Stats summarises one ingestion run.
type Stats struct {
	Documents int
	Chunks    int
	Skipped   []string
	Dimension int
	Duration  time.Duration
}

// Service rebuilds the index from the crawler's output directories.
type Service struct {
	store    index.Store
	driver   neo4j.DriverWithContext
	embedder embeddings.Embedder
	splitter *Splitter
	loader   *Loader
	logger   *log.Logger
}

// NewService wires the pipeline. driver may be nil, which disables graph
// sync.
func NewService(store index.Store, driver neo4j.DriverWithContext, embedder embeddings.Embedder, splitter *Splitter, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}

	return &Service{
		store:    store,
		driver:   driver,
		embedder: embedder,
		splitter: splitter,
		loader:   NewLoader(logger),
		logger:   logger,
	}
}

// Ingest loads every document, chunks and embeds it, and replaces the index.
// Files that fail to parse are skipped; an embedding or build failure aborts
// the run before the old index is replaced.
func (s *Service) Ingest(ctx context.Context, pagesDir, filesDir string) (Stats, error) {
	if s.embedder == nil {
		return Stats{}, fmt.Errorf("embedder not configured")
	}
	if s.store == nil || s.splitter == nil {
		return Stats{}, fmt.Errorf("index store and splitter are required")
	}
	started := time.Now()

	loaded, err := s.loader.LoadAll(ctx, pagesDir, filesDir)
	if err != nil {
		return Stats{}, fmt.Errorf("load documents: %w", err)
	}
	stats := Stats{Documents: len(loaded.Documents), Skipped: loaded.Skipped}

	chunks := s.splitter.Split(loaded.Documents)
	if len(chunks) == 0 {
		return stats, ErrNothingToIndex
	}
	stats.Chunks = len(chunks)
	s.logger.Printf("split %d documents into %d chunks", stats.Documents, stats.Chunks)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := embeddings.EmbedBatched(ctx, s.embedder, texts, embeddings.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("generate embeddings: %w", err)
	}

	dimension := len(vectors[0])
	entries := make([]index.Entry, len(chunks))
	for i, c := range chunks {
		if len(vectors[i]) != dimension {
			return stats, fmt.Errorf("embedding %d has dimension %d, want %d", i, len(vectors[i]), dimension)
		}
		entries[i] = index.Entry{Chunk: c, Vector: vectors[i]}
	}
	stats.Dimension = dimension

	meta := index.Meta{
		EmbeddingModel: s.embedder.Model(),
		Dimension:      dimension,
		ChunkCount:     len(entries),
		BuiltAt:        time.Now().UTC(),
	}
	if err := s.store.Build(ctx, meta, entries); err != nil {
		return stats, fmt.Errorf("build index: %w", err)
	}

	if s.driver != nil {
		if err := knowledge.SyncSources(ctx, s.driver, SourcesOf(chunks)); err != nil {
			s.logger.Printf("sync knowledge graph: %v", err)
		}
	}

	stats.Duration = time.Since(started)
	s.logger.Printf("indexed %d chunks from %d documents (%d skipped) in %s",
		stats.Chunks, stats.Documents, len(stats.Skipped), stats.Duration.Round(time.Millisecond))
	return stats, nil
}

// SourcesOf counts chunks per source, in first-seen order.
func SourcesOf(chunks []index.Chunk) []knowledge.Source {
	var out []knowledge.Source
	pos := make(map[string]int)
	for _, c := range chunks {
		i, ok := pos[c.Source]
		if !ok {
			i = len(out)
			pos[c.Source] = i
			out = append(out, knowledge.Source{ID: c.Source, Title: c.Title})
		}
		out[i].ChunkCount++
	}
	return out
}
