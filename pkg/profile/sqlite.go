package profile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	updated_at TEXT NOT NULL
)`

type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens path and creates the users table if needed.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}

	// Single writer; let database/sql serialise callers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		sqliteSchema,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite store: init: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, error) {
	var (
		record  Record
		updated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, updated_at FROM users WHERE id = ?`, id,
	).Scan(&record.ID, &record.Name, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("sqlite store: get %s: %w", id, err)
	}

	if ts, err := time.Parse(time.RFC3339Nano, updated); err == nil {
		record.UpdatedAt = ts
	}
	return record, nil
}

func (s *SQLiteStore) Save(ctx context.Context, record Record) (string, error) {
	record = prepare(record)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, name, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, updated_at = excluded.updated_at`,
		record.ID, record.Name, record.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("sqlite store: save %s: %w", record.ID, err)
	}
	return record.ID, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
