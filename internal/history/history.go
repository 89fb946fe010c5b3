// Package history grava as perguntas respondidas em SQLite ou MySQL.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/josinaldojr/smart-mrag/internal/rag"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

var schemas = map[string]string{
	DriverSQLite: `
		CREATE TABLE IF NOT EXISTS query_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			collection TEXT NOT NULL,
			question TEXT NOT NULL,
			answer TEXT NOT NULL,
			model TEXT NOT NULL,
			provider TEXT NOT NULL,
			lang TEXT NOT NULL,
			sources INTEGER NOT NULL,
			duration_ms INTEGER NOT NULL,
			asked_at INTEGER NOT NULL
		)`,
	DriverMySQL: `
		CREATE TABLE IF NOT EXISTS query_history (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			collection VARCHAR(255) NOT NULL,
			question TEXT NOT NULL,
			answer MEDIUMTEXT NOT NULL,
			model VARCHAR(255) NOT NULL,
			provider VARCHAR(32) NOT NULL,
			lang VARCHAR(16) NOT NULL,
			sources INT NOT NULL,
			duration_ms BIGINT NOT NULL,
			asked_at BIGINT NOT NULL,
			INDEX idx_asked_at (asked_at)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
}

// Store implements rag.HistoryRecorder.
type Store struct {
	db *sql.DB
}

// Open connects to the history database and creates the table when missing.
// For sqlite the dsn is a file path; its directory is created.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	schema, ok := schemas[driver]
	if !ok {
		return nil, fmt.Errorf("history: unsupported driver %q (use sqlite or mysql)", driver)
	}
	if dsn == "" {
		return nil, errors.New("history: dsn is required")
	}

	if driver == DriverSQLite {
		if dir := filepath.Dir(filepath.Clean(dsn)); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("history: create directory: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", dsn)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	if driver == DriverSQLite {
		// sqlite serializa as escritas de qualquer jeito
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create table: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Record(ctx context.Context, rec rag.QueryRecord) error {
	askedAt := rec.AskedAt
	if askedAt.IsZero() {
		askedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_history
			(collection, question, answer, model, provider, lang, sources, duration_ms, asked_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Collection, rec.Question, rec.Answer, rec.Model, string(rec.Provider), rec.Lang,
		rec.Sources, rec.Duration.Milliseconds(), askedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("history: record: %w", err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]rag.QueryRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT collection, question, answer, model, provider, lang, sources, duration_ms, asked_at
		FROM query_history
		ORDER BY asked_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var out []rag.QueryRecord
	for rows.Next() {
		var (
			rec        rag.QueryRecord
			provider   string
			durationMs int64
			askedAt    int64
		)
		if err := rows.Scan(&rec.Collection, &rec.Question, &rec.Answer, &rec.Model, &provider,
			&rec.Lang, &rec.Sources, &durationMs, &askedAt); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		rec.Provider = rag.Provider(provider)
		rec.Duration = time.Duration(durationMs) * time.Millisecond
		rec.AskedAt = time.UnixMilli(askedAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
