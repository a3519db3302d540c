// Package bridge implements the webhook message pipeline: payload normalization,
// caller authentication, rate limiting, context assembly, the LLM call and reply delivery.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/PromptBridge/internal/models"
	"github.com/BTreeMap/PromptBridge/internal/ratelimit"
)

// Default timeouts applied to each downstream call.
const (
	DefaultStoreTimeout    = 5 * time.Second
	DefaultLLMTimeout      = 30 * time.Second
	DefaultDeliveryTimeout = 15 * time.Second
	// DefaultMaxContextMessages bounds the history sent to the LLM.
	DefaultMaxContextMessages = 20
)

// RateLimitNotice is sent to senders who exceed the rate limit.
const RateLimitNotice = "You're sending messages too quickly. Please wait a minute and try again."

type rateLimiter interface {
	Check(ctx context.Context, senderKey string) ratelimit.Decision
}

type conversationLog interface {
	Read(ctx context.Context, sender string, max int) ([]models.ConversationTurn, error)
	Append(ctx context.Context, sender string, role models.Role, content string) error
}

type chatGateway interface {
	Chat(ctx context.Context, turns []models.ConversationTurn) (string, error)
}

type messageSender interface {
	SendMessage(ctx context.Context, to, body string) error
}

// Opts holds optional pipeline settings.
type Opts struct {
	SystemPrompt        string
	AllowNativePayloads bool
	MaxContextMessages  int
	StoreTimeout        time.Duration
	LLMTimeout          time.Duration
	DeliveryTimeout     time.Duration
}

// Option configures a Pipeline.
type Option func(*Opts)

// WithSystemPrompt sets the system turn prepended to every prompt. Blank disables it.
func WithSystemPrompt(prompt string) Option {
	return func(o *Opts) { o.SystemPrompt = strings.TrimSpace(prompt) }
}

// WithNativePayloads allows native platform envelopes to be processed.
func WithNativePayloads(allow bool) Option {
	return func(o *Opts) { o.AllowNativePayloads = allow }
}

// WithMaxContextMessages sets how many history turns are sent to the LLM.
func WithMaxContextMessages(n int) Option {
	return func(o *Opts) { o.MaxContextMessages = n }
}

// WithTimeouts overrides the per-call timeouts. Zero values keep the defaults.
func WithTimeouts(store, llm, delivery time.Duration) Option {
	return func(o *Opts) {
		if store > 0 {
			o.StoreTimeout = store
		}
		if llm > 0 {
			o.LLMTimeout = llm
		}
		if delivery > 0 {
			o.DeliveryTimeout = delivery
		}
	}
}

// Pipeline processes one webhook request at a time per goroutine; it holds no
// per-request state and is safe for concurrent use.
type Pipeline struct {
	auth    *AuthGuard
	limiter rateLimiter
	history conversationLog
	llm     chatGateway
	sender  messageSender
	opts    Opts
}

// NewPipeline wires the pipeline stages together.
func NewPipeline(auth *AuthGuard, limiter rateLimiter, history conversationLog, llm chatGateway, sender messageSender, opts ...Option) (*Pipeline, error) {
	if auth == nil || limiter == nil || history == nil || llm == nil || sender == nil {
		return nil, errors.New("bridge: pipeline dependencies must not be nil")
	}
	cfg := Opts{
		MaxContextMessages: DefaultMaxContextMessages,
		StoreTimeout:       DefaultStoreTimeout,
		LLMTimeout:         DefaultLLMTimeout,
		DeliveryTimeout:    DefaultDeliveryTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Pipeline.NewPipeline: configured",
		"system_prompt_set", cfg.SystemPrompt != "",
		"allow_native", cfg.AllowNativePayloads,
		"max_context", cfg.MaxContextMessages)
	return &Pipeline{auth: auth, limiter: limiter, history: history, llm: llm, sender: sender, opts: cfg}, nil
}

// Process runs a webhook body through the pipeline. Errors are returned only for
// requests rejected before rate limiting (bad payload, policy, authentication);
// every later outcome is reported in the WebhookResponse.
func (p *Pipeline) Process(ctx context.Context, body []byte, presentedSecret string) (models.WebhookResponse, error) {
	if !p.opts.AllowNativePayloads && IsNativePayload(body) {
		slog.Warn("Pipeline.Process: native payload rejected by policy")
		return models.WebhookResponse{}, ErrPolicyRejected
	}

	msg, err := Normalize(body)
	if err != nil {
		var unsupported *UnsupportedContentTypeError
		switch {
		case errors.Is(err, ErrNonMessageEvent):
			slog.Debug("Pipeline.Process: ignoring non-message event")
			return models.Rejected(models.RejectNonMessageEvent, models.DetailNonMessageEvent), nil
		case errors.As(err, &unsupported):
			slog.Info("Pipeline.Process: unsupported content type", "type", unsupported.Type)
			return models.UnsupportedContent(unsupported.Type), nil
		default:
			slog.Warn("Pipeline.Process: payload rejected", "error", err)
			return models.WebhookResponse{}, err
		}
	}

	if err := p.auth.Authenticate(presentedSecret); err != nil {
		return models.WebhookResponse{}, err
	}

	storeCtx, cancel := context.WithTimeout(ctx, p.opts.StoreTimeout)
	decision := p.limiter.Check(storeCtx, msg.Sender)
	cancel()
	if !decision.Allowed {
		slog.Info("Pipeline.Process: rate limit exceeded", "sender", msg.Sender, "count", decision.Count, "limit", decision.Limit)
		p.notifyRateLimited(ctx, msg.Sender)
		return models.Rejected(models.RejectRateLimited, models.DetailRateLimited), nil
	}

	return p.respond(ctx, msg), nil
}

// notifyRateLimited sends the rate limit notice; failures are only logged.
func (p *Pipeline) notifyRateLimited(ctx context.Context, sender string) {
	sendCtx, cancel := context.WithTimeout(ctx, p.opts.DeliveryTimeout)
	defer cancel()
	if err := p.sender.SendMessage(sendCtx, sender, RateLimitNotice); err != nil {
		slog.Warn("Pipeline.notifyRateLimited: failed to send notice", "sender", sender, "error", err)
	}
}

func (p *Pipeline) respond(ctx context.Context, msg models.InboundMessage) (resp models.WebhookResponse) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Pipeline.respond: recovered from panic", "sender", msg.Sender, "panic", r)
			resp = models.Rejected(models.RejectProcessingFailed, models.DetailProcessingFailed)
		}
	}()

	reply, err := p.generateReply(ctx, msg.Sender, Clean(msg.Text))
	if err != nil {
		slog.Error("Pipeline.respond: processing failed", "sender", msg.Sender, "error", err)
		return models.Rejected(models.RejectProcessingFailed, models.DetailProcessingFailed)
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.opts.DeliveryTimeout)
	defer cancel()
	if err := p.sender.SendMessage(sendCtx, msg.Sender, reply); err != nil {
		slog.Warn("Pipeline.respond: delivery failed, reply kept in history", "sender", msg.Sender, "error", err)
		return models.Queued()
	}
	slog.Info("Pipeline.respond: reply delivered", "sender", msg.Sender, "reply_len", len(reply))
	return models.Delivered()
}

// generateReply records the user turn, asks the LLM and records the reply.
// The user turn stays in history even if the LLM call fails.
func (p *Pipeline) generateReply(ctx context.Context, sender, text string) (string, error) {
	history, err := p.withStoreTimeout(ctx, func(c context.Context) ([]models.ConversationTurn, error) {
		return p.history.Read(c, sender, p.opts.MaxContextMessages)
	})
	if err != nil {
		return "", fmt.Errorf("read history: %w", err)
	}
	if _, err := p.withStoreTimeout(ctx, func(c context.Context) ([]models.ConversationTurn, error) {
		return nil, p.history.Append(c, sender, models.RoleUser, text)
	}); err != nil {
		return "", fmt.Errorf("append user turn: %w", err)
	}

	llmCtx, cancel := context.WithTimeout(ctx, p.opts.LLMTimeout)
	reply, err := p.llm.Chat(llmCtx, p.buildPrompt(history, text))
	cancel()
	if err != nil {
		return "", fmt.Errorf("llm chat: %w", err)
	}
	reply = strings.TrimSpace(reply)

	if _, err := p.withStoreTimeout(ctx, func(c context.Context) ([]models.ConversationTurn, error) {
		return nil, p.history.Append(c, sender, models.RoleAssistant, reply)
	}); err != nil {
		return "", fmt.Errorf("append assistant turn: %w", err)
	}
	return reply, nil
}

// buildPrompt assembles system prompt, history and the new user turn.
// history is the context read before the user turn was appended.
func (p *Pipeline) buildPrompt(history []models.ConversationTurn, text string) []models.ConversationTurn {
	turns := make([]models.ConversationTurn, 0, len(history)+2)
	if p.opts.SystemPrompt != "" {
		turns = append(turns, models.ConversationTurn{Role: models.RoleSystem, Content: p.opts.SystemPrompt})
	}
	turns = append(turns, history...)
	return append(turns, models.ConversationTurn{Role: models.RoleUser, Content: text})
}

func (p *Pipeline) withStoreTimeout(ctx context.Context, fn func(context.Context) ([]models.ConversationTurn, error)) ([]models.ConversationTurn, error) {
	c, cancel := context.WithTimeout(ctx, p.opts.StoreTimeout)
	defer cancel()
	return fn(c)
}
