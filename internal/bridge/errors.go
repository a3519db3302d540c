package bridge

import (
	"errors"
	"fmt"
)

// Errors that surface as HTTP error statuses. Everything past authentication
// is reported through a WebhookResponse instead.
var (
	// ErrMalformedJSON means the body is not valid JSON.
	ErrMalformedJSON = errors.New("malformed JSON body")
	// ErrMalformedPayload means the JSON does not match either accepted shape.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrPolicyRejected means native platform payloads are disabled on this instance.
	ErrPolicyRejected = errors.New("native webhook payloads are not accepted")
	// ErrUnauthorized means the presented secret is missing or wrong.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrServiceMisconfigured means no shared secret is configured; all requests are refused.
	ErrServiceMisconfigured = errors.New("service misconfigured: shared secret not set")
	// ErrVerificationFailed means a subscription handshake was refused.
	ErrVerificationFailed = errors.New("webhook verification failed")
	// ErrNonMessageEvent means a native event carried no message (e.g. a delivery receipt).
	ErrNonMessageEvent = errors.New("non-message event")
)

// UnsupportedContentTypeError reports a native message that is not plain text.
type UnsupportedContentTypeError struct {
	Type string
}

func (e *UnsupportedContentTypeError) Error() string {
	return fmt.Sprintf("unsupported message type: %s", e.Type)
}

// payloadError wraps ErrMalformedPayload with the offending field.
func payloadError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...))
}
