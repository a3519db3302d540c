// Package api exposes the PromptBridge HTTP surface: the webhook endpoints,
// the health probe and a small authenticated admin API.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BTreeMap/PromptBridge/internal/bridge"
	"github.com/BTreeMap/PromptBridge/internal/models"
)

// Server defaults.
const (
	DefaultAddr              = ":8080"
	DefaultMaxBodyBytes      = 1 << 20
	DefaultHealthTimeout     = 5 * time.Second
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultReadHeaderTimeout = 10 * time.Second
)

type webhookProcessor interface {
	Process(ctx context.Context, body []byte, presentedSecret string) (models.WebhookResponse, error)
}

type historyAdmin interface {
	Read(ctx context.Context, sender string, max int) ([]models.ConversationTurn, error)
	Clear(ctx context.Context, sender string) error
	Ping(ctx context.Context) bool
}

type limiterAdmin interface {
	Reset(ctx context.Context, senderKey string) error
}

type credentialsChecker interface {
	CredentialsConfigured() bool
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr               string
	VerifyToken        string
	MaxBodyBytes       int64
	MaxContextMessages int
	HealthTimeout      time.Duration
	ShutdownTimeout    time.Duration
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithVerifyToken sets the token expected during webhook subscription verification.
func WithVerifyToken(token string) Option {
	return func(o *Opts) { o.VerifyToken = token }
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(o *Opts) { o.MaxBodyBytes = n }
}

// WithMaxContextMessages sets the default number of turns returned by the admin history endpoint.
func WithMaxContextMessages(n int) Option {
	return func(o *Opts) { o.MaxContextMessages = n }
}

// WithShutdownTimeout bounds the graceful drain on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) { o.ShutdownTimeout = d }
}

// Server serves the PromptBridge endpoints.
type Server struct {
	pipeline webhookProcessor
	auth     *bridge.AuthGuard
	history  historyAdmin
	limiter  limiterAdmin
	delivery credentialsChecker
	opts     Opts
}

// NewServer creates a Server. All dependencies are required.
func NewServer(pipeline webhookProcessor, auth *bridge.AuthGuard, history historyAdmin, limiter limiterAdmin, delivery credentialsChecker, opts ...Option) (*Server, error) {
	if pipeline == nil || auth == nil || history == nil || limiter == nil || delivery == nil {
		return nil, errors.New("api: server dependencies must not be nil")
	}
	cfg := Opts{
		Addr:               DefaultAddr,
		MaxBodyBytes:       DefaultMaxBodyBytes,
		MaxContextMessages: bridge.DefaultMaxContextMessages,
		HealthTimeout:      DefaultHealthTimeout,
		ShutdownTimeout:    DefaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	slog.Debug("Server.NewServer: configured", "addr", cfg.Addr, "verify_token_set", cfg.VerifyToken != "", "max_body_bytes", cfg.MaxBodyBytes)
	return &Server{pipeline: pipeline, auth: auth, history: history, limiter: limiter, delivery: delivery, opts: cfg}, nil
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.opts.Addr }

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/webhook", s.webhookHandler)
	mux.HandleFunc("/webhook/whatsapp", s.webhookHandler)
	mux.HandleFunc("/admin/conversations/", s.conversationsHandler)
	mux.HandleFunc("/admin/ratelimits/", s.rateLimitsHandler)

	return chainMiddlewares(mux,
		withBodyLimit(s.opts.MaxBodyBytes),
		withRecovery,
		withLogging,
		withRequestID,
	)
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then drains in-flight requests
// for at most the shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Serve: PromptBridge API listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("Server.Serve: shutting down", "timeout", s.opts.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	slog.Info("Server.Serve: shutdown complete")
	return nil
}
