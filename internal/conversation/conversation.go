// Package conversation keeps a short, expiring log of turns per sender.
//
// Each conversation is stored as a single JSON array under "conv:<sender>".
// Appends read the full history, add one turn and write it back with a
// refreshed ttl. The read-modify-write is not atomic: two concurrent appends
// for the same sender can lose one turn (last writer wins).
package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/PromptBridge/internal/models"
	"github.com/BTreeMap/PromptBridge/internal/store"
)

const (
	// KeyPrefix namespaces conversations in the shared store.
	KeyPrefix = "conv:"
	// DefaultTTL is how long an idle conversation is kept.
	DefaultTTL = 24 * time.Hour
	// DefaultMaxContextMessages bounds the history returned to the pipeline.
	DefaultMaxContextMessages = 20
)

// kvStore is the subset of store.KeyValueStore used here.
type kvStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// Store reads and writes conversation logs.
type Store struct {
	kv  kvStore
	ttl time.Duration
}

// New creates a conversation store. A non-positive ttl selects DefaultTTL.
func New(kv kvStore, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{kv: kv, ttl: ttl}
}

func key(sender string) string {
	return KeyPrefix + sender
}

// Read returns at most max of the most recent turns, oldest first.
// max <= 0 returns the full history. A missing or unreadable record yields
// an empty history; only storage errors are returned.
func (s *Store) Read(ctx context.Context, sender string, max int) ([]models.ConversationTurn, error) {
	turns, err := s.load(ctx, sender)
	if err != nil {
		return nil, err
	}
	if max > 0 && len(turns) > max {
		turns = turns[len(turns)-max:]
	}
	return turns, nil
}

// load fetches and decodes the full history.
func (s *Store) load(ctx context.Context, sender string) ([]models.ConversationTurn, error) {
	raw, err := s.kv.Get(ctx, key(sender))
	if errors.Is(err, store.ErrNotFound) {
		return []models.ConversationTurn{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation for %s: %w", sender, err)
	}
	if raw == "" {
		return []models.ConversationTurn{}, nil
	}

	var generic interface{}
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		slog.Error("Store.load: conversation record is not valid JSON, treating as empty", "error", err, "sender", sender)
		return []models.ConversationTurn{}, nil
	}
	if _, ok := generic.([]interface{}); !ok {
		slog.Warn("Store.load: conversation record is not a JSON list, treating as empty", "sender", sender, "type", fmt.Sprintf("%T", generic))
		return []models.ConversationTurn{}, nil
	}

	var turns []models.ConversationTurn
	if err := json.Unmarshal([]byte(raw), &turns); err != nil {
		slog.Warn("Store.load: conversation record has malformed turns, treating as empty", "error", err, "sender", sender)
		return []models.ConversationTurn{}, nil
	}
	for i, t := range turns {
		if err := t.Role.Validate(); err != nil {
			slog.Warn("Store.load: conversation record has a turn with an unknown role, treating as empty", "sender", sender, "index", i, "role", t.Role)
			return []models.ConversationTurn{}, nil
		}
	}
	if turns == nil {
		turns = []models.ConversationTurn{}
	}
	return turns, nil
}

// Append adds one turn to the sender's history and refreshes its ttl.
func (s *Store) Append(ctx context.Context, sender string, role models.Role, content string) error {
	if err := role.Validate(); err != nil {
		return err
	}
	turns, err := s.load(ctx, sender)
	if err != nil {
		return err
	}
	turns = append(turns, models.ConversationTurn{Role: role, Content: content})

	data, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("failed to encode conversation for %s: %w", sender, err)
	}
	if err := s.kv.Set(ctx, key(sender), string(data), s.ttl); err != nil {
		return fmt.Errorf("failed to write conversation for %s: %w", sender, err)
	}
	slog.Debug("Store.Append: turn stored", "sender", sender, "role", role, "turns", len(turns))
	return nil
}

// Clear deletes the sender's history.
func (s *Store) Clear(ctx context.Context, sender string) error {
	if err := s.kv.Delete(ctx, key(sender)); err != nil {
		return fmt.Errorf("failed to clear conversation for %s: %w", sender, err)
	}
	return nil
}

// Ping reports whether the backing store is reachable.
func (s *Store) Ping(ctx context.Context) bool {
	if err := s.kv.Ping(ctx); err != nil {
		slog.Warn("Store.Ping: backing store unavailable", "error", err)
		return false
	}
	return true
}
