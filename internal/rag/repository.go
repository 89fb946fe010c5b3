package rag

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Repository stores chunks with their embeddings and answers similarity
// queries. Scores are cosine similarities, highest first.
type Repository interface {
	InsertChunk(ctx context.Context, c *DocChunk, embedding []float32) (int64, error)
	SearchSimilarChunks(ctx context.Context, collection string, embedding []float32, limit int) ([]ScoredChunk, error)
	CountChunks(ctx context.Context, collection string) (int, error)
	DeleteDocument(ctx context.Context, collection, documentID string) error
	DeleteCollection(ctx context.Context, collection string) error
}

// DocumentInserter is implemented by stores that can write every chunk of a
// document atomically. The Service prefers it over chunk-by-chunk inserts.
type DocumentInserter interface {
	InsertChunks(ctx context.Context, chunks []*DocChunk, embeddings [][]float32) error
}

type PgRepository struct {
	db *pgxpool.Pool
}

func NewPgRepository(db *pgxpool.Pool) *PgRepository {
	return &PgRepository{db: db}
}

func (r *PgRepository) InsertChunk(ctx context.Context, c *DocChunk, embedding []float32) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	id, err := insertChunk(ctx, tx, c, embedding)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

// InsertChunks grava o documento inteiro numa transação só: ou entram todos
// os chunks ou nenhum.
func (r *PgRepository) InsertChunks(ctx context.Context, chunks []*DocChunk, embeddings [][]float32) error {
	if len(chunks) != len(embeddings) {
		return fmt.Errorf("insert chunks: %d chunks, %d embeddings", len(chunks), len(embeddings))
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for i, c := range chunks {
		id, err := insertChunk(ctx, tx, c, embeddings[i])
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", i, err)
		}
		c.ID = id
	}
	return tx.Commit(ctx)
}

func insertChunk(ctx context.Context, tx pgx.Tx, c *DocChunk, embedding []float32) (int64, error) {
	var id int64
	err := tx.QueryRow(ctx, `
		INSERT INTO doc_chunk (collection, document_id, source, title, chunk_index, content)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`,
		c.Collection,
		c.DocumentID,
		c.Source,
		c.Title,
		c.ChunkIndex,
		c.Content,
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	if embedding != nil {
		vec := pgvector.NewVector(embedding)
		_, err = tx.Exec(ctx, `
			INSERT INTO doc_chunk_embedding (chunk_id, embedding)
			VALUES ($1, $2)
		`, id, vec)
		if err != nil {
			return 0, err
		}
	}
	return id, nil
}

// SearchSimilarChunks faz a busca vetorial (distância de cosseno) filtrando por collection.
func (r *PgRepository) SearchSimilarChunks(ctx context.Context, collection string, embedding []float32, limit int) ([]ScoredChunk, error) {
	if limit <= 0 {
		limit = 5
	}

	vec := pgvector.NewVector(embedding)

	rows, err := r.db.Query(ctx, `
		SELECT
			c.id, c.collection, c.document_id, c.source, c.title,
			c.chunk_index, c.content, c.created_at,
			1 - (e.embedding <=> $2) AS score
		FROM doc_chunk c
		JOIN doc_chunk_embedding e ON c.id = e.chunk_id
		WHERE c.collection = $1
		ORDER BY e.embedding <=> $2
		LIMIT $3
	`, collection, vec, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []ScoredChunk
	for rows.Next() {
		var c ScoredChunk
		if err := rows.Scan(
			&c.ID,
			&c.Collection,
			&c.DocumentID,
			&c.Source,
			&c.Title,
			&c.ChunkIndex,
			&c.Content,
			&c.CreatedAt,
			&c.Score,
		); err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}

	return chunks, rows.Err()
}

func (r *PgRepository) CountChunks(ctx context.Context, collection string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM doc_chunk WHERE collection = $1`, collection).Scan(&n)
	return n, err
}

func (r *PgRepository) DeleteDocument(ctx context.Context, collection, documentID string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM doc_chunk WHERE collection = $1 AND document_id = $2`, collection, documentID)
	return err
}

// DeleteCollection removes chunks; embeddings go with them (ON DELETE CASCADE).
func (r *PgRepository) DeleteCollection(ctx context.Context, collection string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM doc_chunk WHERE collection = $1`, collection)
	return err
}

var (
	_ Repository       = (*PgRepository)(nil)
	_ DocumentInserter = (*PgRepository)(nil)
)
