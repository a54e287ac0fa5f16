package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

var openDB = sql.Open

// SQLite stores documents in a single table and uses a compare-and-swap
// UPDATE for optimistic concurrency.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (and migrates) the database at path.
func NewSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: %s: %w", p, err)
		}
	}

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	const schema = `
		CREATE TABLE IF NOT EXISTS documents (
			key        TEXT PRIMARY KEY,
			version    INTEGER NOT NULL,
			data       BLOB NOT NULL,
			updated_at TEXT NOT NULL
		)`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Get reads the document for key.
func (s *SQLite) Get(ctx context.Context, key string) (Document, error) {
	var doc Document
	var updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT key, version, data, updated_at FROM documents WHERE key = ?`, key,
	).Scan(&doc.Key, &doc.Version, &doc.Data, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("store: get %s: %w", key, err)
	}
	doc.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return doc, nil
}

// Put writes data when the stored version matches expected.
func (s *SQLite) Put(ctx context.Context, key string, data []byte, expected int64) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var res sql.Result
	var err error
	if expected == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO documents (key, version, data, updated_at) VALUES (?, 1, ?, ?)`,
			key, data, now)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE documents SET version = version + 1, data = ?, updated_at = ? WHERE key = ? AND version = ?`,
			data, now, key, expected)
	}
	if err != nil {
		return 0, fmt.Errorf("store: put %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("store: put %s: %w", key, err)
	}
	if n == 0 {
		return 0, ErrConflict
	}
	return expected + 1, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
