package bridge

import (
	"crypto/subtle"
	"log/slog"
)

// SecretHeader carries the shared secret on inbound requests.
const SecretHeader = "X-Bot-Secret"

// AuthGuard checks the shared secret presented by webhook callers.
// An empty expected secret refuses every request.
type AuthGuard struct {
	secret []byte
}

// NewAuthGuard returns a guard for the given expected secret.
func NewAuthGuard(secret string) *AuthGuard {
	return &AuthGuard{secret: []byte(secret)}
}

// Configured reports whether an expected secret is set.
func (g *AuthGuard) Configured() bool {
	return g != nil && len(g.secret) > 0
}

// Authenticate returns nil when presented matches the expected secret.
func (g *AuthGuard) Authenticate(presented string) error {
	if !g.Configured() {
		slog.Error("AuthGuard.Authenticate: shared secret not configured, refusing request")
		return ErrServiceMisconfigured
	}
	if subtle.ConstantTimeCompare([]byte(presented), g.secret) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// VerifySubscription answers the platform's webhook subscription handshake.
// It returns the challenge to echo back, or ErrVerificationFailed.
// When expectedToken is empty any token is accepted.
func VerifySubscription(mode, challenge, token, expectedToken string) (string, error) {
	if mode != "subscribe" || challenge == "" {
		return "", ErrVerificationFailed
	}
	if expectedToken != "" && subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
		slog.Warn("VerifySubscription: verify token mismatch")
		return "", ErrVerificationFailed
	}
	return challenge, nil
}
