package genai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/BTreeMap/PromptBridge/internal/models"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = "gpt-4o"

// chatService defines minimal interface for chat completions.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIClient wraps the OpenAI chat completion service.
type OpenAIClient struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int64
}

// NewOpenAIClient creates an OpenAI-backed client. An API key is required.
func NewOpenAIClient(opts ...Option) (*OpenAIClient, error) {
	cfg := applyOpts(DefaultOpenAIModel, opts)
	if cfg.APIKey == "" {
		slog.Error("OpenAIClient: API key not set")
		return nil, fmt.Errorf("openai: %w", ErrMissingAPIKey)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)
	slog.Debug("OpenAIClient: created", "model", cfg.Model, "base_url_set", cfg.BaseURL != "")
	return &OpenAIClient{
		chat:        &cli.Chat.Completions,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Chat sends the turns as chat messages and returns the first choice's content,
// or "" when the API returns no choices.
func (c *OpenAIClient) Chat(ctx context.Context, turns []models.ConversationTurn) (string, error) {
	params := c.buildParams(turns)
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		slog.Error("OpenAIClient.Chat: completion failed", "error", err, "model", c.model)
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		slog.Warn("OpenAIClient.Chat: no choices returned", "model", c.model)
		return "", nil
	}
	slog.Debug("OpenAIClient.Chat: completion received", "model", c.model, "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) buildParams(turns []models.ConversationTurn) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, turn := range turns {
		switch turn.Role {
		case models.RoleSystem:
			messages = append(messages, openai.SystemMessage(turn.Content))
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	return openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		MaxTokens:   openai.Int(c.maxTokens),
		Temperature: openai.Float(c.temperature),
	}
}
