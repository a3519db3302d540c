package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BTreeMap/PromptBridge/internal/twiliowhatsapp"
)

// TwilioService implements the Service interface using Twilio API
type TwilioService struct {
	client  twiliowhatsapp.Sender // Could be real Twilio client or MockClient
	mu      sync.RWMutex
	stopped bool
}

// NewTwilioService creates a new TwilioService around a Twilio client.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{client: client}
}

// CredentialsConfigured is true once a client exists; NewClient refuses to build without credentials.
func (s *TwilioService) CredentialsConfigured() bool {
	return s.client != nil
}

// Start is a no-op for Twilio (no live client)
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop marks the service stopped; later sends fail with ErrServiceStopped.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

// SendMessage sends a message via Twilio using the canonical E.164 form of to.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	stopped := s.stopped
	s.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}
	if s.client == nil {
		return ErrCredentialsNotConfigured
	}

	canonicalTo, err := CanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}

	if err := s.client.SendMessage(ctx, "+"+canonicalTo, body); err != nil {
		return err
	}
	slog.Debug("TwilioService message sent", "to", canonicalTo)
	return nil
}
