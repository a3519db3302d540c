// Package testutil provides common test fakes and helpers for PromptBridge tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BTreeMap/PromptBridge/internal/models"
)

// FakeChat is an LLM gateway that records prompts and returns a canned reply.
type FakeChat struct {
	mu      sync.Mutex
	Reply   string
	Err     error
	Panic   interface{}
	Prompts [][]models.ConversationTurn
}

// Chat records turns and returns Reply or Err.
func (f *FakeChat) Chat(_ context.Context, turns []models.ConversationTurn) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Prompts = append(f.Prompts, append([]models.ConversationTurn(nil), turns...))
	if f.Panic != nil {
		panic(f.Panic)
	}
	return f.Reply, f.Err
}

// Calls returns the number of Chat invocations.
func (f *FakeChat) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Prompts)
}

// LastPrompt returns the most recent prompt, or nil.
func (f *FakeChat) LastPrompt() []models.ConversationTurn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Prompts) == 0 {
		return nil
	}
	return f.Prompts[len(f.Prompts)-1]
}

// SentMessage is one message captured by FakeSender.
type SentMessage struct {
	To   string
	Body string
}

// FakeSender is a delivery channel that records messages.
type FakeSender struct {
	mu           sync.Mutex
	Err          error
	Unconfigured bool
	SentMessages []SentMessage
}

// SendMessage records the message and returns Err.
func (f *FakeSender) SendMessage(_ context.Context, to, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SentMessages = append(f.SentMessages, SentMessage{To: to, Body: body})
	return f.Err
}

// CredentialsConfigured reports !Unconfigured.
func (f *FakeSender) CredentialsConfigured() bool {
	return !f.Unconfigured
}

// Sent returns a copy of the recorded messages.
func (f *FakeSender) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentMessage(nil), f.SentMessages...)
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeJSONBody decodes the recorded response body into a generic map.
func DecodeJSONBody(t testing.TB, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	return response
}

// AssertWebhookResponse decodes a webhook envelope and checks both fields.
// An empty wantDetail expects a null detail.
func AssertWebhookResponse(t testing.TB, rr *httptest.ResponseRecorder, wantDelivered bool, wantDetail string) {
	t.Helper()
	var resp models.WebhookResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode webhook response: %v", err)
	}
	if resp.Delivered != wantDelivered {
		t.Errorf("expected delivered=%v, got %v", wantDelivered, resp.Delivered)
	}
	if wantDetail == "" && resp.Detail != nil {
		t.Errorf("expected null detail, got %q", *resp.Detail)
	}
	if wantDetail != "" && resp.DetailText() != wantDetail {
		t.Errorf("expected detail %q, got %q", wantDetail, resp.DetailText())
	}
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
// A []byte or string body is sent as-is.
func CreateHTTPRequest(t testing.TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	switch b := body.(type) {
	case nil:
		reqBody = bytes.NewBuffer(nil)
	case []byte:
		reqBody = bytes.NewBuffer(b)
	case string:
		reqBody = bytes.NewBufferString(b)
	default:
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t testing.TB, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// NativeTextPayload builds a Cloud API webhook body carrying one text message.
func NativeTextPayload(from, body string) map[string]interface{} {
	return nativePayload(map[string]interface{}{
		"from": from,
		"id":   "wamid.test",
		"type": "text",
		"text": map[string]interface{}{"body": body},
	})
}

// NativeMediaPayload builds a Cloud API webhook body carrying a non-text message.
func NativeMediaPayload(from, msgType string) map[string]interface{} {
	return nativePayload(map[string]interface{}{
		"from":  from,
		"id":    "wamid.test",
		"type":  msgType,
		msgType: map[string]interface{}{"id": "media-id"},
	})
}

// NativeStatusPayload builds a Cloud API delivery receipt, which has no messages.
func NativeStatusPayload(recipient string) map[string]interface{} {
	return map[string]interface{}{
		"object": "whatsapp_business_account",
		"entry": []interface{}{map[string]interface{}{
			"id": "waba",
			"changes": []interface{}{map[string]interface{}{
				"field": "messages",
				"value": map[string]interface{}{
					"messaging_product": "whatsapp",
					"statuses": []interface{}{map[string]interface{}{
						"id":           "wamid.test",
						"status":       "delivered",
						"recipient_id": recipient,
					}},
				},
			}},
		}},
	}
}

func nativePayload(message map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"object": "whatsapp_business_account",
		"entry": []interface{}{map[string]interface{}{
			"id": "waba",
			"changes": []interface{}{map[string]interface{}{
				"field": "messages",
				"value": map[string]interface{}{
					"messaging_product": "whatsapp",
					"messages":          []interface{}{message},
				},
			}},
		}},
	}
}
