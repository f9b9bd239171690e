package index

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/fabfab/visacoach/database"
)

const undefinedTable = "42P01"

// PostgresStore keeps the index in pgvector tables. A build runs in one
// transaction, so concurrent readers see the old or the new index.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Build(ctx context.Context, meta Meta, entries []Entry) (err error) {
	if s.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	if err := validateEntries(meta, entries); err != nil {
		return err
	}
	meta.ChunkCount = len(entries)

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = database.ResetRAGSchema(ctx, tx, meta.Dimension); err != nil {
		return fmt.Errorf("reset schema: %w", err)
	}

	if _, err = tx.Exec(ctx, "DELETE FROM rag_index_meta"); err != nil {
		return fmt.Errorf("clear index meta: %w", err)
	}
	builtAt := meta.BuiltAt
	if builtAt.IsZero() {
		if err = tx.QueryRow(ctx, "SELECT NOW()").Scan(&builtAt); err != nil {
			return fmt.Errorf("read build time: %w", err)
		}
	}
	if _, err = tx.Exec(ctx, `
		INSERT INTO rag_index_meta (embedding_model, dimension, chunk_count, built_at)
		VALUES ($1, $2, $3, $4)
	`, meta.EmbeddingModel, meta.Dimension, meta.ChunkCount, builtAt); err != nil {
		return fmt.Errorf("insert index meta: %w", err)
	}

	batch := &pgx.Batch{}
	for i, entry := range entries {
		c := entry.Chunk
		batch.Queue(`
			INSERT INTO rag_chunks (ordinal, id, source, title, content, start_offset, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, i, uuid.New(), c.Source, c.Title, c.Text, c.Start, pgvector.NewVector(entry.Vector))
	}
	if err = tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert chunks: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context) (Index, error) {
	if s.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	var meta Meta
	err := s.pool.QueryRow(ctx, `
		SELECT embedding_model, dimension, chunk_count, built_at FROM rag_index_meta
	`).Scan(&meta.EmbeddingModel, &meta.Dimension, &meta.ChunkCount, &meta.BuiltAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isUndefinedTable(err) {
			return nil, ErrIndexNotFound
		}
		return nil, fmt.Errorf("query index meta: %w", err)
	}
	return &postgresIndex{pool: s.pool, meta: meta}, nil
}

func (s *PostgresStore) Clear(ctx context.Context) error {
	if s.pool == nil {
		return fmt.Errorf("postgres pool is nil")
	}
	return database.DropRAGSchema(ctx, s.pool)
}

type postgresIndex struct {
	pool *pgxpool.Pool
	meta Meta
}

func (p *postgresIndex) Meta() Meta { return p.meta }

func (p *postgresIndex) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if k < 1 {
		return nil, fmt.Errorf("k must be at least 1, got %d", k)
	}
	if len(vector) != p.meta.Dimension {
		return nil, &EmbeddingMismatchError{
			IndexModel: p.meta.EmbeddingModel,
			QueryModel: p.meta.EmbeddingModel,
			IndexDim:   p.meta.Dimension,
			QueryDim:   len(vector),
		}
	}

	// Exact scan: ordering by ordinal on equal distance keeps ties stable.
	rows, err := p.pool.Query(ctx, `
		SELECT source, title, content, start_offset, 1 - (embedding <=> $1::vector) AS score
		FROM rag_chunks
		ORDER BY embedding <=> $1::vector, ordinal
		LIMIT $2
	`, pgvector.NewVector(vector), k)
	if err != nil {
		if isUndefinedTable(err) {
			return nil, ErrIndexNotFound
		}
		return nil, fmt.Errorf("query similar chunks: %w", err)
	}
	defer rows.Close()

	hits := make([]Hit, 0, k)
	for rows.Next() {
		var (
			hit   Hit
			score *float64
		)
		if err := rows.Scan(&hit.Chunk.Source, &hit.Chunk.Title, &hit.Chunk.Text, &hit.Chunk.Start, &score); err != nil {
			return nil, fmt.Errorf("scan similar chunk: %w", err)
		}
		// Cosine distance against a zero vector is NaN.
		if score != nil && !math.IsNaN(*score) {
			hit.Score = *score
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return hits, nil
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedTable
}
