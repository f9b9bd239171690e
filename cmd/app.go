package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/fabfab/visacoach/chat"
	"github.com/fabfab/visacoach/config"
	"github.com/fabfab/visacoach/database"
	"github.com/fabfab/visacoach/embeddings"
	"github.com/fabfab/visacoach/index"
	"github.com/fabfab/visacoach/ingestion"
	"github.com/fabfab/visacoach/llm"
)

// app holds the connections shared by every command.
type app struct {
	cfg    config.Config
	logger *log.Logger
	pool   *pgxpool.Pool
	driver neo4j.DriverWithContext
	store  index.Store
}

// openApp connects to Postgres when it backs the index, and to Neo4j when
// a URI is configured. A Neo4j failure only disables the graph.
func openApp(ctx context.Context, cfg config.Config, logger *log.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	switch cfg.IndexBackend {
	case config.BackendPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		a.pool = pool
		a.store = index.NewPostgresStore(pool)
	default:
		a.store = index.NewLocalStore(cfg.IndexDir)
	}

	if cfg.Neo4jURI != "" {
		driver, err := database.NewNeo4jDriver(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPass)
		if err != nil {
			logger.Printf("neo4j unavailable, continuing without knowledge graph: %v", err)
		} else {
			a.driver = driver
		}
	}

	return a, nil
}

func (a *app) Close(ctx context.Context) {
	if a.driver != nil {
		_ = a.driver.Close(ctx)
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

// Ingest rebuilds the index from the persisted crawl data.
func (a *app) Ingest(ctx context.Context) (ingestion.Stats, error) {
	embedder, err := embeddings.NewEmbedder(a.cfg)
	if err != nil {
		return ingestion.Stats{}, fmt.Errorf("embedder setup: %w", err)
	}
	splitter, err := ingestion.NewSplitter(a.cfg.Chunking.Size, a.cfg.Chunking.Overlap)
	if err != nil {
		return ingestion.Stats{}, err
	}

	svc := ingestion.NewService(a.store, a.driver, embedder, splitter, a.logger)
	a.logger.Printf("ingesting %s and %s using %s embeddings", a.cfg.PagesDir(), a.cfg.FilesDir(), embedder.Model())
	return svc.Ingest(ctx, a.cfg.PagesDir(), a.cfg.FilesDir())
}

// Open loads the current index and wires a question service over it.
func (a *app) Open(ctx context.Context) (*chat.Service, error) {
	idx, err := a.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	embedder, err := embeddings.NewEmbedder(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("embedder setup: %w", err)
	}
	retriever, err := chat.NewRetriever(embedder, idx, a.cfg.Retrieval.K)
	if err != nil {
		return nil, err
	}
	llmClient, err := llm.NewClient(a.cfg)
	if err != nil {
		return nil, fmt.Errorf("llm setup: %w", err)
	}

	var graph chat.GraphStore
	if a.driver != nil {
		graph = chat.NewNeo4jGraphStore(a.driver)
	}
	return chat.NewService(retriever, graph, llmClient, a.logger), nil
}
