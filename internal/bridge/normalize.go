package bridge

import (
	"bytes"
	"encoding/json"

	"github.com/BTreeMap/PromptBridge/internal/models"
)

// nativeEnvelope mirrors the parts of a WhatsApp Cloud API webhook we read.
type nativeEnvelope struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []nativeMessage `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

type nativeMessage struct {
	From *string `json:"from"`
	Type string  `json:"type"`
	Text *struct {
		Body *string `json:"body"`
	} `json:"text"`
}

// relayPayload is the flat shape posted by automation relays.
type relayPayload struct {
	Sender *string `json:"sender"`
	From   *string `json:"from"`
	Text   *string `json:"text"`
}

// decodeObject parses body as a JSON object keyed by top-level field.
func decodeObject(body []byte) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if !json.Valid(trimmed) {
		return nil, ErrMalformedJSON
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &obj); err != nil || obj == nil {
		return nil, payloadError("body is not a JSON object")
	}
	return obj, nil
}

// IsNativePayload reports whether body is a native platform envelope,
// recognised by a top-level "entry" key. Invalid JSON is never native.
func IsNativePayload(body []byte) bool {
	obj, err := decodeObject(body)
	if err != nil {
		return false
	}
	_, ok := obj["entry"]
	return ok
}

// Normalize converts a webhook body in either accepted shape into an InboundMessage.
// Text is returned as received; cleaning happens later in the pipeline.
func Normalize(body []byte) (models.InboundMessage, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return models.InboundMessage{}, err
	}
	if _, ok := obj["entry"]; ok {
		return normalizeNative(body)
	}
	return normalizeRelay(body)
}

func normalizeNative(body []byte) (models.InboundMessage, error) {
	var env nativeEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return models.InboundMessage{}, payloadError("native envelope: %v", err)
	}
	if len(env.Entry) == 0 || len(env.Entry[0].Changes) == 0 || len(env.Entry[0].Changes[0].Value.Messages) == 0 {
		return models.InboundMessage{}, ErrNonMessageEvent
	}

	msg := env.Entry[0].Changes[0].Value.Messages[0]
	if msg.Type != "text" {
		return models.InboundMessage{
			Kind:        models.MessageKindNonText,
			ContentType: msg.Type,
			Sender:      deref(msg.From),
		}, &UnsupportedContentTypeError{Type: msg.Type}
	}
	if msg.From == nil {
		return models.InboundMessage{}, payloadError("native message missing from")
	}
	if msg.Text == nil || msg.Text.Body == nil {
		return models.InboundMessage{}, payloadError("native text message missing text.body")
	}
	return models.InboundMessage{
		Sender: *msg.From,
		Text:   *msg.Text.Body,
		Kind:   models.MessageKindText,
	}, nil
}

func normalizeRelay(body []byte) (models.InboundMessage, error) {
	var p relayPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return models.InboundMessage{}, payloadError("%v", err)
	}
	sender := p.Sender
	if sender == nil {
		sender = p.From
	}
	if sender == nil {
		return models.InboundMessage{}, payloadError("missing field sender")
	}
	if p.Text == nil {
		return models.InboundMessage{}, payloadError("missing field text")
	}
	return models.InboundMessage{
		Sender: *sender,
		Text:   *p.Text,
		Kind:   models.MessageKindText,
	}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
