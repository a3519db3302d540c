// Package messaging delivers generated replies back to WhatsApp users.
//
// Three channels are supported: the WhatsApp Cloud API (Meta Graph API), Twilio's
// WhatsApp API and a direct whatsmeow multi-device connection.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
)

// Delivery providers.
const (
	ProviderCloudAPI  = "cloudapi"
	ProviderTwilio    = "twilio"
	ProviderWhatsmeow = "whatsmeow"
)

// MinPhoneDigits is the shortest recipient accepted after canonicalization.
const MinPhoneDigits = 6

var (
	// ErrServiceStopped is returned when sending through a stopped service.
	ErrServiceStopped = errors.New("messaging service stopped")
	// ErrCredentialsNotConfigured is returned when a channel has no credentials.
	ErrCredentialsNotConfigured = errors.New("delivery credentials not configured")
)

var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// CredentialsConfigured reports whether the channel can attempt delivery.
	CredentialsConfigured() bool

	// Start begins any background processing (e.g., holding a live connection).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error
}

// CanonicalizeRecipient strips everything but digits from a phone number, so
// "+1 (555) 123-4567" and "whatsapp:+15551234567" both become "15551234567".
func CanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < MinPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, MinPhoneDigits)
	}

	if recipient != canonical {
		slog.Debug("messaging.CanonicalizeRecipient: canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}
