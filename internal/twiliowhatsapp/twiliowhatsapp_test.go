package twiliowhatsapp

import (
	"context"
	"errors"
	"testing"

	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

type fakeCreator struct {
	params []*twilioApi.CreateMessageParams
	err    error
}

func (f *fakeCreator) CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	sid := "SM123"
	return &twilioApi.ApiV2010Message{Sid: &sid}, nil
}

func TestClient_SendMessage(t *testing.T) {
	api := &fakeCreator{}
	client := newClientWithAPI(api, "+15550000000")

	if err := client.SendMessage(context.Background(), "15551234567", "hola"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.params) != 1 {
		t.Fatalf("expected 1 request, got %d", len(api.params))
	}
	p := api.params[0]
	if *p.To != "whatsapp:+15551234567" {
		t.Errorf("unexpected To %q", *p.To)
	}
	if *p.From != "whatsapp:+15550000000" {
		t.Errorf("unexpected From %q", *p.From)
	}
	if *p.Body != "hola" {
		t.Errorf("unexpected Body %q", *p.Body)
	}
}

func TestClient_SendMessageKeepsPrefixedNumbers(t *testing.T) {
	api := &fakeCreator{}
	client := newClientWithAPI(api, "whatsapp:+15550000000")
	if err := client.SendMessage(context.Background(), "whatsapp:+15551234567", "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *api.params[0].To != "whatsapp:+15551234567" || *api.params[0].From != "whatsapp:+15550000000" {
		t.Errorf("prefix applied twice: to=%q from=%q", *api.params[0].To, *api.params[0].From)
	}
}

func TestClient_SendMessageError(t *testing.T) {
	client := newClientWithAPI(&fakeCreator{err: errors.New("21211 invalid To")}, "+1")
	if err := client.SendMessage(context.Background(), "+15551234567", "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestClient_SendMessageCancelledContext(t *testing.T) {
	api := &fakeCreator{}
	client := newClientWithAPI(api, "+1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := client.SendMessage(ctx, "+15551234567", "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(api.params) != 0 {
		t.Error("no request should be made with a cancelled context")
	}
}

func TestNewClient_MissingCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_FROM_NUMBER", "")
	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok")); err == nil {
		t.Error("expected error without from number")
	}
	if _, err := NewClient(WithAccountSID("AC1"), WithAuthToken("tok"), WithFromWhats("+1555")); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestMockClient_SendMessage(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()

	err := mock.SendMessage(ctx, "12345", "Hello Test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(mock.SentMessages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mock.SentMessages))
	}

	if mock.SentMessages[0].Body != "Hello Test" {
		t.Errorf("expected body %q, got %q", "Hello Test", mock.SentMessages[0].Body)
	}
}
