// Package store provides key/value storage backends for PromptBridge.
//
// Every backend offers the same small surface: string values with an optional
// time-to-live, an atomic counter and a liveness probe. Rate limiting and
// conversation memory are built on top of it.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("store: key not found")

// KeyValueStore is the storage contract shared by all backends.
// A ttl <= 0 means the key never expires.
type KeyValueStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Incr atomically increments the integer stored at key and returns the new value.
	// A missing or expired key counts as zero. An existing expiry is kept.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets a ttl on an existing key. It reports false when the key does not exist.
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

// Sweeper is implemented by backends without native key expiry. Sweep removes
// expired keys and reports how many were deleted.
type Sweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// Backend type names returned by DetectDSNType.
const (
	TypeMemory   = "memory"
	TypeRedis    = "redis"
	TypePostgres = "postgres"
	TypeDynamoDB = "dynamodb"
	TypeSQLite   = "sqlite3"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
	Now func() time.Time
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the connection string or file path.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return WithDSN(dsn)
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) {
		o.Now = now
	}
}

func applyOpts(opts []Option) Opts {
	cfg := Opts{Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}

// DetectDSNType returns the backend type for a store URL.
// Anything that is not recognised is treated as an SQLite file path.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case lower == "" || lower == "memory" || strings.HasPrefix(lower, "memory://"):
		return TypeMemory
	case strings.HasPrefix(lower, "redis://") || strings.HasPrefix(lower, "rediss://"):
		return TypeRedis
	case strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") || isKeywordDSN(lower):
		return TypePostgres
	case strings.HasPrefix(lower, "dynamodb://"):
		return TypeDynamoDB
	default:
		return TypeSQLite
	}
}

// isKeywordDSN matches libpq keyword/value strings such as "host=db user=app".
func isKeywordDSN(dsn string) bool {
	if strings.Contains(dsn, "?") || !strings.Contains(dsn, "=") {
		return false
	}
	return strings.Contains(dsn, "host=") || strings.Contains(dsn, "dbname=") || strings.Contains(dsn, " ")
}

// Open creates the backend selected by the scheme of dsn.
func Open(ctx context.Context, dsn string, opts ...Option) (KeyValueStore, error) {
	opts = append([]Option{WithDSN(dsn)}, opts...)
	kind := DetectDSNType(dsn)
	slog.Debug("store.Open: selecting backend", "type", kind)

	switch kind {
	case TypeMemory:
		return NewMemoryStore(opts...), nil
	case TypeRedis:
		return NewRedisStore(opts...)
	case TypePostgres:
		return NewPostgresStore(opts...)
	case TypeDynamoDB:
		return NewDynamoDBStoreFromURL(ctx, dsn, opts...)
	case TypeSQLite:
		return NewSQLiteStore(opts...)
	default:
		return nil, fmt.Errorf("unsupported store type %q", kind)
	}
}

// expiryFor converts a ttl into an absolute deadline. Zero means no expiry.
func expiryFor(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}
