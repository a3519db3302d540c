package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BTreeMap/PromptBridge/internal/whatsapp"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client   whatsapp.WhatsAppSender
	waClient *whatsapp.Client // set when client is a live connection
	mu       sync.RWMutex
	stopped  bool
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{client: client}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with live whatsmeow client")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return service
}

// CredentialsConfigured reports whether the device is paired. Mocks count as configured.
func (s *WhatsAppService) CredentialsConfigured() bool {
	if s.client == nil {
		return false
	}
	if s.waClient != nil {
		return s.waClient.Connected()
	}
	return true
}

// Start is a no-op; the connection is established by whatsapp.NewClient.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")
	return nil
}

// Stop disconnects the live client, if any.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	if s.waClient != nil {
		s.waClient.Close()
	}
	slog.Info("WhatsAppService stopped")
	return nil
}

// SendMessage sends a text message to the canonical phone number.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
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
		slog.Error("WhatsAppService SendMessage validation error", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", canonicalTo)
		return err
	}
	slog.Debug("WhatsAppService message sent", "to", canonicalTo, "body_length", len(body))
	return nil
}
