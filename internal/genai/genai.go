// Package genai provides the provider-agnostic LLM gateway used to generate replies.
// OpenAI is reached through openai-go and Gemini through Google's genai SDK.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/PromptBridge/internal/models"
)

// Supported providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// Generation defaults shared by every provider.
const (
	DefaultTemperature = 0.2
	DefaultMaxTokens   = 800
)

var (
	// ErrMissingAPIKey is returned when a provider is selected without credentials.
	ErrMissingAPIKey = errors.New("API key not set")
	// ErrUnsupportedProvider is returned for an unknown provider name.
	ErrUnsupportedProvider = errors.New("unsupported LLM provider; use 'openai' or 'gemini'")
)

// ChatClient turns an ordered list of conversation turns into a single reply.
type ChatClient interface {
	Chat(ctx context.Context, turns []models.ConversationTurn) (string, error)
}

// Opts holds configuration shared by the provider clients.
type Opts struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int64
}

// Option configures a provider client.
type Option func(*Opts)

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel overrides the provider's default model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithBaseURL points the client at a different API endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int64) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

func applyOpts(defaultModel string, opts []Option) Opts {
	cfg := Opts{
		Model:       defaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return cfg
}

// New builds the client for the named provider. Selection happens once at startup.
func New(ctx context.Context, provider string, opts ...Option) (ChatClient, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", ProviderOpenAI:
		return NewOpenAIClient(opts...)
	case ProviderGemini:
		return NewGeminiClient(ctx, opts...)
	default:
		slog.Error("genai.New: unsupported provider", "provider", provider)
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, provider)
	}
}
