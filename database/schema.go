package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// ResetRAGSchema drops and recreates the chunk table for vectors of the given
// dimension. Run it inside a transaction so readers keep seeing the old
// index until commit.
func ResetRAGSchema(ctx context.Context, db Execer, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive")
	}

	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		`CREATE TABLE IF NOT EXISTS rag_index_meta (
			id BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (id),
			embedding_model TEXT NOT NULL,
			dimension INT NOT NULL,
			chunk_count INT NOT NULL,
			built_at TIMESTAMPTZ NOT NULL
		)`,
		"DROP TABLE IF EXISTS rag_chunks",
		fmt.Sprintf(`CREATE TABLE rag_chunks (
			ordinal INT PRIMARY KEY,
			id UUID NOT NULL UNIQUE,
			source TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			start_offset INT NOT NULL,
			embedding VECTOR(%d) NOT NULL
		)`, dimension),
		"CREATE INDEX rag_chunks_source_idx ON rag_chunks(source)",
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}

	return nil
}

// DropRAGSchema removes the index tables.
func DropRAGSchema(ctx context.Context, db Execer) error {
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS rag_chunks",
		"DROP TABLE IF EXISTS rag_index_meta",
	} {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}
	return nil
}
