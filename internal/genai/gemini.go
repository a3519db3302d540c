package genai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	googlegenai "google.golang.org/genai"

	"github.com/BTreeMap/PromptBridge/internal/models"
)

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-1.5-flash"

// contentGenerator is the part of googlegenai.Models used by GeminiClient.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*googlegenai.Content, config *googlegenai.GenerateContentConfig) (*googlegenai.GenerateContentResponse, error)
}

// GeminiClient calls the Gemini API through the genai SDK.
type GeminiClient struct {
	models      contentGenerator
	model       string
	temperature float32
	maxTokens   int32
}

// NewGeminiClient creates a Gemini-backed client. An API key is required.
// A base URL ending in an API version segment (e.g. .../v1beta) is split into
// endpoint and version.
func NewGeminiClient(ctx context.Context, opts ...Option) (*GeminiClient, error) {
	cfg := applyOpts(DefaultGeminiModel, opts)
	if cfg.APIKey == "" {
		slog.Error("GeminiClient: API key not set")
		return nil, fmt.Errorf("gemini: %w", ErrMissingAPIKey)
	}

	clientCfg := &googlegenai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: googlegenai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		base, version := splitAPIVersion(cfg.BaseURL)
		clientCfg.HTTPOptions = googlegenai.HTTPOptions{BaseURL: base, APIVersion: version}
	}
	client, err := googlegenai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}
	slog.Debug("GeminiClient: created", "model", cfg.Model, "base_url_set", cfg.BaseURL != "")
	return &GeminiClient{
		models:      client.Models,
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		maxTokens:   int32(cfg.MaxTokens),
	}, nil
}

// Chat sends the turns to Gemini. System turns are merged into the system
// instruction; blank turns are skipped. The reply is the trimmed concatenation
// of the first candidate's text parts, or "" when there is none.
func (c *GeminiClient) Chat(ctx context.Context, turns []models.ConversationTurn) (string, error) {
	contents, cfg := c.buildRequest(turns)
	res, err := c.models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		slog.Error("GeminiClient.Chat: generate content failed", "error", err, "model", c.model)
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	if res == nil {
		return "", nil
	}
	return strings.TrimSpace(res.Text()), nil
}

func (c *GeminiClient) buildRequest(turns []models.ConversationTurn) ([]*googlegenai.Content, *googlegenai.GenerateContentConfig) {
	var system []string
	contents := make([]*googlegenai.Content, 0, len(turns))
	for _, turn := range turns {
		text := strings.TrimSpace(turn.Content)
		if text == "" {
			continue
		}
		switch turn.Role {
		case models.RoleSystem:
			system = append(system, text)
		case models.RoleUser:
			contents = append(contents, googlegenai.NewContentFromText(text, googlegenai.RoleUser))
		default:
			contents = append(contents, googlegenai.NewContentFromText(text, googlegenai.RoleModel))
		}
	}

	temp := c.temperature
	cfg := &googlegenai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: c.maxTokens,
	}
	if len(system) > 0 {
		cfg.SystemInstruction = googlegenai.NewContentFromText(strings.Join(system, "\n"), googlegenai.RoleUser)
	}
	return contents, cfg
}

// splitAPIVersion turns "https://host/v1beta" into ("https://host/", "v1beta").
func splitAPIVersion(raw string) (string, string) {
	trimmed := strings.TrimRight(raw, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return raw, ""
	}
	last := trimmed[idx+1:]
	if strings.HasPrefix(last, "v1") || strings.HasPrefix(last, "v2") {
		return trimmed[:idx+1], last
	}
	return trimmed + "/", ""
}
