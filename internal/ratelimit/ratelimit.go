// Package ratelimit enforces a per-sender message budget over a fixed window.
//
// The window starts with the first message after the previous window expired:
// the counter is created by an atomic increment and given a ttl only when it
// reaches 1. Storage failures never block traffic.
package ratelimit

import (
	"context"
	"log/slog"
	"time"
)

// Defaults used when no explicit configuration is given.
const (
	DefaultMaxRequests = 10
	DefaultWindow      = 60 * time.Second
	// KeyPrefix namespaces counters in the shared store.
	KeyPrefix = "ratelimit:"
)

// counterStore is the subset of store.KeyValueStore the limiter needs.
type counterStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Decision is the outcome of a rate check. Count is 0 when the store could not be consulted.
type Decision struct {
	Allowed bool  `json:"allowed"`
	Count   int64 `json:"count"`
	Limit   int64 `json:"limit"`
}

// Opts holds configuration options for the limiter.
type Opts struct {
	MaxRequests int64
	Window      time.Duration
}

// Option defines a configuration option for the limiter.
type Option func(*Opts)

// WithMaxRequests sets the number of messages allowed per window.
func WithMaxRequests(n int64) Option {
	return func(o *Opts) { o.MaxRequests = n }
}

// WithWindow sets the window length.
func WithWindow(d time.Duration) Option {
	return func(o *Opts) { o.Window = d }
}

// Limiter counts messages per sender.
type Limiter struct {
	store  counterStore
	max    int64
	window time.Duration
}

// New creates a Limiter over the given store.
func New(store counterStore, opts ...Option) *Limiter {
	cfg := Opts{MaxRequests: DefaultMaxRequests, Window: DefaultWindow}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultMaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Limiter{store: store, max: cfg.MaxRequests, window: cfg.Window}
}

// Limit returns the configured maximum per window.
func (l *Limiter) Limit() int64 {
	return l.max
}

// Check counts one message for senderKey and reports whether it is within budget.
// Any storage error fails open.
func (l *Limiter) Check(ctx context.Context, senderKey string) Decision {
	key := KeyPrefix + senderKey

	count, err := l.store.Incr(ctx, key)
	if err != nil {
		slog.Warn("Limiter.Check: counter increment failed, allowing request", "error", err, "sender", senderKey)
		return Decision{Allowed: true, Count: 0, Limit: l.max}
	}

	if count == 1 {
		if _, err := l.store.Expire(ctx, key, l.window); err != nil {
			slog.Warn("Limiter.Check: failed to start window, allowing request", "error", err, "sender", senderKey)
			// A counter without a ttl would never reset; drop it so the next message starts a fresh window.
			if delErr := l.store.Delete(ctx, key); delErr != nil {
				slog.Warn("Limiter.Check: failed to drop counter without ttl", "error", delErr, "sender", senderKey)
			}
			return Decision{Allowed: true, Count: 0, Limit: l.max}
		}
	}

	d := Decision{Allowed: count <= l.max, Count: count, Limit: l.max}
	if !d.Allowed {
		slog.Info("Limiter.Check: sender over limit", "sender", senderKey, "count", count, "limit", l.max)
	}
	return d
}

// Reset clears the counter for senderKey, starting a fresh window on the next message.
func (l *Limiter) Reset(ctx context.Context, senderKey string) error {
	return l.store.Delete(ctx, KeyPrefix+senderKey)
}
