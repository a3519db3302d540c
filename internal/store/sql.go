package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"
)

// sqlQueries holds the dialect-specific statements for the kv_entries table.
// Expiry timestamps are stored as Unix milliseconds, NULL meaning no expiry.
type sqlQueries struct {
	get    string // args: key
	set    string // args: key, value, expires_at
	delete string // args: key
	incr   string // args: key, now
	expire string // args: expires_at, key, now
	sweep  string // args: now
}

// sqlStore implements KeyValueStore on top of database/sql.
type sqlStore struct {
	name string
	db   *sql.DB
	q    sqlQueries
	now  func() time.Time
}

func nullableMillis(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func (s *sqlStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	var expiresAt sql.NullInt64
	err := s.db.QueryRowContext(ctx, s.q.get, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		slog.Error(s.name+".Get: query failed", "error", err, "key", key)
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}
	if expiresAt.Valid && expiresAt.Int64 <= s.now().UnixMilli() {
		return "", ErrNotFound
	}
	return value, nil
}

func (s *sqlStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	expiresAt := nullableMillis(expiryFor(s.now(), ttl))
	if _, err := s.db.ExecContext(ctx, s.q.set, key, value, expiresAt); err != nil {
		slog.Error(s.name+".Set: upsert failed", "error", err, "key", key)
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

func (s *sqlStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, s.q.delete, key); err != nil {
		slog.Error(s.name+".Delete: delete failed", "error", err, "key", key)
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

func (s *sqlStore) Incr(ctx context.Context, key string) (int64, error) {
	var raw string
	if err := s.db.QueryRowContext(ctx, s.q.incr, key, s.now().UnixMilli()).Scan(&raw); err != nil {
		slog.Error(s.name+".Incr: upsert failed", "error", err, "key", key)
		return 0, fmt.Errorf("failed to increment key %s: %w", key, err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse counter %s: %w", key, err)
	}
	return n, nil
}

func (s *sqlStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, s.q.expire, nullableMillis(expiryFor(now, ttl)), key, now.UnixMilli())
	if err != nil {
		slog.Error(s.name+".Expire: update failed", "error", err, "key", key)
		return false, fmt.Errorf("failed to set expiry on key %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows for key %s: %w", key, err)
	}
	return n > 0, nil
}

// Sweep deletes rows whose expiry has passed.
func (s *sqlStore) Sweep(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q.sweep, s.now().UnixMilli())
	if err != nil {
		slog.Error(s.name+".Sweep: delete failed", "error", err)
		return 0, fmt.Errorf("failed to sweep expired keys: %w", err)
	}
	return res.RowsAffected()
}

func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

// openSQL opens the database, verifies the connection and applies migrations.
func openSQL(name, driver, dsn, migrations string) (*sql.DB, error) {
	slog.Debug(name+": opening database connection", "driver", driver)
	db, err := sql.Open(driver, dsn)
	if err != nil {
		slog.Error(name+": failed to open connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error(name+": ping failed", "error", err)
		db.Close()
		return nil, err
	}

	slog.Debug(name + ": running migrations")
	if _, err := db.Exec(migrations); err != nil {
		slog.Error(name+": failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug(name + ": migrations applied successfully")
	return db, nil
}
