package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

var sqliteQueries = sqlQueries{
	get: `SELECT entry_value, expires_at FROM kv_entries WHERE entry_key = ?`,
	set: `INSERT INTO kv_entries (entry_key, entry_value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(entry_key) DO UPDATE SET entry_value = excluded.entry_value, expires_at = excluded.expires_at`,
	delete: `DELETE FROM kv_entries WHERE entry_key = ?`,
	incr: `INSERT INTO kv_entries (entry_key, entry_value, expires_at) VALUES (?1, '1', NULL)
		ON CONFLICT(entry_key) DO UPDATE SET
			entry_value = CASE WHEN kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at <= ?2
				THEN '1' ELSE CAST(CAST(kv_entries.entry_value AS INTEGER) + 1 AS TEXT) END,
			expires_at = CASE WHEN kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at <= ?2
				THEN NULL ELSE kv_entries.expires_at END
		RETURNING entry_value`,
	expire: `UPDATE kv_entries SET expires_at = ?1 WHERE entry_key = ?2 AND (expires_at IS NULL OR expires_at > ?3)`,
	sweep:  `DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`,
}

// SQLiteStore is a file-backed KeyValueStore.
type SQLiteStore struct {
	sqlStore
}

// NewSQLiteStore creates a new SQLite store. The DSN is a file path, optionally
// prefixed with "file:" and followed by query parameters.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			slog.Error("Failed to create database directory", "error", err, "dir", dir)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := openSQL("SQLiteStore", TypeSQLite, dsn, sqliteMigrations)
	if err != nil {
		return nil, err
	}
	// SQLite serialises writers; a single connection avoids SQLITE_BUSY under concurrent requests.
	db.SetMaxOpenConns(1)

	return &SQLiteStore{sqlStore{name: "SQLiteStore", db: db, q: sqliteQueries, now: cfg.Now}}, nil
}
