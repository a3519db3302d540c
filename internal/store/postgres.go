package store

import (
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

var postgresQueries = sqlQueries{
	get: `SELECT entry_value, expires_at FROM kv_entries WHERE entry_key = $1`,
	set: `INSERT INTO kv_entries (entry_key, entry_value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (entry_key) DO UPDATE SET entry_value = EXCLUDED.entry_value, expires_at = EXCLUDED.expires_at`,
	delete: `DELETE FROM kv_entries WHERE entry_key = $1`,
	incr: `INSERT INTO kv_entries (entry_key, entry_value, expires_at) VALUES ($1, '1', NULL)
		ON CONFLICT (entry_key) DO UPDATE SET
			entry_value = CASE WHEN kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at <= $2
				THEN '1' ELSE (kv_entries.entry_value::bigint + 1)::text END,
			expires_at = CASE WHEN kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at <= $2
				THEN NULL ELSE kv_entries.expires_at END
		RETURNING entry_value`,
	expire: `UPDATE kv_entries SET expires_at = $1 WHERE entry_key = $2 AND (expires_at IS NULL OR expires_at > $3)`,
	sweep:  `DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= $1`,
}

// PostgresStore is a PostgreSQL-backed KeyValueStore.
type PostgresStore struct {
	sqlStore
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := openSQL("PostgresStore", TypePostgres, cfg.DSN, postgresMigrations)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	return &PostgresStore{sqlStore{name: "PostgresStore", db: db, q: postgresQueries, now: cfg.Now}}, nil
}
