package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"canvassync/application/ports"
	"canvassync/pkg/errors"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS kv_store (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	updated_at INTEGER NOT NULL DEFAULT (strftime('%s','now'))
);
`

// SQLiteStorage persists values in a local SQLite database file
type SQLiteStorage struct {
	db         *sql.DB
	quotaBytes int64
}

// OpenSQLite opens or creates the database at path. quotaBytes of zero means unlimited.
func OpenSQLite(path string, quotaBytes int64) (*SQLiteStorage, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStorage{db: db, quotaBytes: quotaBytes}, nil
}

// Close closes the database
func (s *SQLiteStorage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get returns the stored value
func (s *SQLiteStorage) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv_store WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite get %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores a value, enforcing the byte quota across all keys
func (s *SQLiteStorage) Set(ctx context.Context, key, value string) error {
	if s.quotaBytes > 0 {
		var used sql.NullInt64
		err := s.db.QueryRowContext(ctx,
			"SELECT SUM(length(key) + length(value)) FROM kv_store WHERE key <> ?", key,
		).Scan(&used)
		if err != nil {
			return fmt.Errorf("sqlite usage: %w", err)
		}
		if used.Int64+int64(len(key)+len(value)) > s.quotaBytes {
			return errors.NewQuotaExceededError("sqlite", ports.ErrQuotaExceeded)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO kv_store (key, value, updated_at)
		 VALUES (?, ?, strftime('%s','now'))`,
		key, value,
	)
	if err != nil {
		if isDiskFull(err) {
			return errors.NewQuotaExceededError("sqlite", fmt.Errorf("%w: %v", ports.ErrQuotaExceeded, err))
		}
		return fmt.Errorf("sqlite set %s: %w", key, err)
	}
	return nil
}

// Remove deletes a key
func (s *SQLiteStorage) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv_store WHERE key = ?", key); err != nil {
		return fmt.Errorf("sqlite remove %s: %w", key, err)
	}
	return nil
}

func isDiskFull(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database or disk is full") || strings.Contains(msg, "sqlite_full")
}
