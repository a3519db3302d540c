package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Cloud API defaults.
const (
	DefaultGraphBaseURL    = "https://graph.facebook.com"
	DefaultGraphVersion    = "v21.0"
	DefaultCloudAPITimeout = 15 * time.Second
)

// HTTPStatusError captures non-2xx upstream responses with status-aware context.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("cloudapi: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// HTTPStatusCode returns the upstream status code.
func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type cloudTextMessage struct {
	MessagingProduct string        `json:"messaging_product"`
	To               string        `json:"to"`
	Type             string        `json:"type"`
	Text             cloudTextBody `json:"text"`
}

type cloudTextBody struct {
	Body string `json:"body"`
}

// CloudAPIOpts holds configuration for CloudAPIService.
type CloudAPIOpts struct {
	Token      string
	PhoneID    string
	Version    string
	BaseURL    string
	HTTPClient *http.Client
}

// CloudAPIOption configures a CloudAPIService.
type CloudAPIOption func(*CloudAPIOpts)

// WithCloudAPICredentials sets the bearer token and sending phone number id.
func WithCloudAPICredentials(token, phoneID string) CloudAPIOption {
	return func(o *CloudAPIOpts) {
		o.Token = strings.TrimSpace(token)
		o.PhoneID = strings.TrimSpace(phoneID)
	}
}

// WithGraphVersion overrides the Graph API version segment.
func WithGraphVersion(version string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.Version = strings.TrimSpace(version) }
}

// WithGraphBaseURL points the service at a different Graph API host.
func WithGraphBaseURL(baseURL string) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.BaseURL = strings.TrimSpace(baseURL) }
}

// WithHTTPClient sets the HTTP client used for Graph API calls.
func WithHTTPClient(c *http.Client) CloudAPIOption {
	return func(o *CloudAPIOpts) { o.HTTPClient = c }
}

// CloudAPIService sends text messages through the WhatsApp Cloud API.
// Missing credentials do not prevent construction; sends fail instead.
type CloudAPIService struct {
	token      string
	phoneID    string
	version    string
	baseURL    string
	httpClient *http.Client
}

// NewCloudAPIService creates a Cloud API delivery channel.
func NewCloudAPIService(opts ...CloudAPIOption) *CloudAPIService {
	cfg := CloudAPIOpts{
		Version: DefaultGraphVersion,
		BaseURL: DefaultGraphBaseURL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Version == "" {
		cfg.Version = DefaultGraphVersion
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGraphBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultCloudAPITimeout}
	}
	slog.Debug("CloudAPIService: created", "token_set", cfg.Token != "", "phone_id_set", cfg.PhoneID != "", "version", cfg.Version)
	return &CloudAPIService{
		token:      cfg.Token,
		phoneID:    cfg.PhoneID,
		version:    cfg.Version,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
	}
}

// CredentialsConfigured reports whether both token and phone id are set.
func (s *CloudAPIService) CredentialsConfigured() bool {
	return s.token != "" && s.phoneID != ""
}

// Start is a no-op; the Cloud API is stateless.
func (s *CloudAPIService) Start(ctx context.Context) error { return nil }

// Stop is a no-op.
func (s *CloudAPIService) Stop() error { return nil }

func (s *CloudAPIService) messagesURL() string {
	return fmt.Sprintf("%s/%s/%s/messages", s.baseURL, s.version, s.phoneID)
}

// SendMessage posts a text message to the Graph API messages endpoint.
func (s *CloudAPIService) SendMessage(ctx context.Context, to string, body string) error {
	if !s.CredentialsConfigured() {
		slog.Error("CloudAPIService.SendMessage: credentials not configured")
		return fmt.Errorf("cloudapi: %w", ErrCredentialsNotConfigured)
	}
	canonicalTo, err := CanonicalizeRecipient(to)
	if err != nil {
		slog.Error("CloudAPIService.SendMessage: validation error", "error", err, "to", to)
		return err
	}

	payload, err := json.Marshal(cloudTextMessage{
		MessagingProduct: "whatsapp",
		To:               canonicalTo,
		Type:             "text",
		Text:             cloudTextBody{Body: body},
	})
	if err != nil {
		return fmt.Errorf("cloudapi: marshal request: %w", err)
	}

	url := s.messagesURL()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("cloudapi: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	if _, err := s.doJSONRequest(req, url); err != nil {
		slog.Error("CloudAPIService.SendMessage: send failed", "error", err, "to", canonicalTo)
		return fmt.Errorf("cloudapi: send message to %s: %w", canonicalTo, err)
	}
	slog.Debug("CloudAPIService.SendMessage: message sent", "to", canonicalTo, "body_length", len(body))
	return nil
}

func (s *CloudAPIService) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, doErr := s.httpClient.Do(req)
	if doErr != nil {
		return nil, doErr
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
