package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	// registra o tipo vector em cada conexão
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to db: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return pool, nil
}

// Migrate creates the pgvector extension and the chunk tables. dims fixes the
// width of the embedding column and must match the embedding model.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("migrate: embedding dimensions must be positive, got %d", dims)
	}

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS doc_chunk (
			id          BIGSERIAL PRIMARY KEY,
			collection  TEXT NOT NULL,
			document_id TEXT NOT NULL,
			source      TEXT NOT NULL,
			title       TEXT NOT NULL,
			chunk_index INT NOT NULL,
			content     TEXT NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS doc_chunk_collection_idx ON doc_chunk (collection)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS doc_chunk_embedding (
			chunk_id   BIGINT PRIMARY KEY REFERENCES doc_chunk (id) ON DELETE CASCADE,
			embedding  vector(%d) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, dims),
		`CREATE INDEX IF NOT EXISTS doc_chunk_embedding_hnsw_idx
			ON doc_chunk_embedding USING hnsw (embedding vector_cosine_ops)`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
