package genai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	googlegenai "google.golang.org/genai"

	"github.com/BTreeMap/PromptBridge/internal/models"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp       *openai.ChatCompletion
	err        error
	lastParams openai.ChatCompletionNewParams
}

func (m *mockChatService) New(_ context.Context, params openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	m.lastParams = params
	return m.resp, m.err
}

func sampleTurns() []models.ConversationTurn {
	return []models.ConversationTurn{
		{Role: models.RoleSystem, Content: "Be brief."},
		{Role: models.RoleUser, Content: "hola"},
		{Role: models.RoleAssistant, Content: "¡hola!"},
		{Role: models.RoleUser, Content: "¿qué tal?"},
	}
}

func TestOpenAIChat_Success(t *testing.T) {
	mock := &mockChatService{resp: &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "Hello World"}},
		},
	}}
	client := &OpenAIClient{chat: mock, model: "gpt-4o", temperature: DefaultTemperature, maxTokens: DefaultMaxTokens}
	out, err := client.Chat(context.Background(), sampleTurns())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected 'Hello World', got '%s'", out)
	}

	p := mock.lastParams
	if string(p.Model) != "gpt-4o" {
		t.Errorf("expected model gpt-4o, got %s", p.Model)
	}
	if len(p.Messages) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(p.Messages))
	}
	if p.Messages[0].OfSystem == nil || p.Messages[1].OfUser == nil || p.Messages[2].OfAssistant == nil || p.Messages[3].OfUser == nil {
		t.Errorf("roles were not mapped in order: %+v", p.Messages)
	}
	if p.MaxTokens.Value != 800 {
		t.Errorf("expected max tokens 800, got %d", p.MaxTokens.Value)
	}
	if p.Temperature.Value != 0.2 {
		t.Errorf("expected temperature 0.2, got %v", p.Temperature.Value)
	}
}

func TestOpenAIChat_ServiceError(t *testing.T) {
	client := &OpenAIClient{chat: &mockChatService{err: errors.New("service failure")}, model: "m"}
	_, err := client.Chat(context.Background(), sampleTurns())
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestOpenAIChat_NoChoices(t *testing.T) {
	client := &OpenAIClient{chat: &mockChatService{resp: &openai.ChatCompletion{}}, model: "m"}
	out, err := client.Chat(context.Background(), sampleTurns())
	if err != nil || out != "" {
		t.Errorf("expected empty reply without error, got %q (err=%v)", out, err)
	}
}

func TestNewOpenAIClient_NoKey(t *testing.T) {
	_, err := NewOpenAIClient()
	if !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestNewOpenAIClient_WithKey(t *testing.T) {
	cli, err := NewOpenAIClient(WithAPIKey("test-key"), WithBaseURL("http://localhost:9999/v1"), WithModel(""))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.model != DefaultOpenAIModel {
		t.Errorf("expected default model, got %s", cli.model)
	}
	if cli.maxTokens != DefaultMaxTokens || cli.temperature != DefaultTemperature {
		t.Errorf("unexpected generation defaults: %d %v", cli.maxTokens, cli.temperature)
	}
}

type fakeGenerator struct {
	resp      *googlegenai.GenerateContentResponse
	err       error
	lastModel string
	contents  []*googlegenai.Content
	cfg       *googlegenai.GenerateContentConfig
}

func (f *fakeGenerator) GenerateContent(_ context.Context, model string, contents []*googlegenai.Content, cfg *googlegenai.GenerateContentConfig) (*googlegenai.GenerateContentResponse, error) {
	f.lastModel, f.contents, f.cfg = model, contents, cfg
	return f.resp, f.err
}

func textResponse(parts ...string) *googlegenai.GenerateContentResponse {
	content := &googlegenai.Content{Role: string(googlegenai.RoleModel)}
	for _, p := range parts {
		content.Parts = append(content.Parts, &googlegenai.Part{Text: p})
	}
	return &googlegenai.GenerateContentResponse{Candidates: []*googlegenai.Candidate{{Content: content}}}
}

func newTestGemini(gen *fakeGenerator) *GeminiClient {
	return &GeminiClient{models: gen, model: DefaultGeminiModel, temperature: 0.2, maxTokens: 800}
}

func TestGeminiChat_BuildsRequest(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse(" Hola", " mundo ")}
	client := newTestGemini(gen)
	turns := []models.ConversationTurn{
		{Role: models.RoleSystem, Content: "Rule one."},
		{Role: models.RoleUser, Content: "  hi  "},
		{Role: models.RoleAssistant, Content: "hello"},
		{Role: models.RoleUser, Content: "   "},
		{Role: models.RoleSystem, Content: "Rule two."},
		{Role: models.RoleUser, Content: "bye"},
	}

	out, err := client.Chat(context.Background(), turns)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if out != "Hola mundo" {
		t.Errorf("expected trimmed concatenated reply, got %q", out)
	}
	if gen.lastModel != DefaultGeminiModel {
		t.Errorf("expected model %s, got %s", DefaultGeminiModel, gen.lastModel)
	}

	if len(gen.contents) != 3 {
		t.Fatalf("expected 3 contents (blank and system turns removed), got %d", len(gen.contents))
	}
	wantRoles := []string{string(googlegenai.RoleUser), string(googlegenai.RoleModel), string(googlegenai.RoleUser)}
	wantTexts := []string{"hi", "hello", "bye"}
	for i, c := range gen.contents {
		if c.Role != wantRoles[i] || c.Parts[0].Text != wantTexts[i] {
			t.Errorf("content %d = %s/%q, want %s/%q", i, c.Role, c.Parts[0].Text, wantRoles[i], wantTexts[i])
		}
	}

	if gen.cfg.SystemInstruction == nil || gen.cfg.SystemInstruction.Parts[0].Text != "Rule one.\nRule two." {
		t.Errorf("expected merged system instruction, got %+v", gen.cfg.SystemInstruction)
	}
	if gen.cfg.MaxOutputTokens != 800 || gen.cfg.Temperature == nil || *gen.cfg.Temperature != 0.2 {
		t.Errorf("unexpected generation config %+v", gen.cfg)
	}
}

func TestGeminiChat_NoSystemInstruction(t *testing.T) {
	gen := &fakeGenerator{resp: textResponse("ok")}
	if _, err := newTestGemini(gen).Chat(context.Background(), []models.ConversationTurn{{Role: models.RoleUser, Content: "x"}}); err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if gen.cfg.SystemInstruction != nil {
		t.Error("expected no system instruction without system turns")
	}
}

func TestGeminiChat_NoCandidates(t *testing.T) {
	gen := &fakeGenerator{resp: &googlegenai.GenerateContentResponse{}}
	out, err := newTestGemini(gen).Chat(context.Background(), sampleTurns())
	if err != nil || out != "" {
		t.Errorf("expected empty reply, got %q (err=%v)", out, err)
	}
}

func TestGeminiChat_Error(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("quota exceeded")}
	_, err := newTestGemini(gen).Chat(context.Background(), sampleTurns())
	if err == nil || !strings.Contains(err.Error(), "quota exceeded") {
		t.Errorf("expected wrapped error, got %v", err)
	}
}

func TestNewGeminiClient_NoKey(t *testing.T) {
	if _, err := NewGeminiClient(context.Background()); !errors.Is(err, ErrMissingAPIKey) {
		t.Errorf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestSplitAPIVersion(t *testing.T) {
	tests := []struct {
		in, base, version string
	}{
		{"https://generativelanguage.googleapis.com/v1beta", "https://generativelanguage.googleapis.com/", "v1beta"},
		{"https://proxy.local/gemini/v1/", "https://proxy.local/gemini/", "v1"},
		{"https://proxy.local/gemini", "https://proxy.local/gemini/", ""},
	}
	for _, tt := range tests {
		base, version := splitAPIVersion(tt.in)
		if base != tt.base || version != tt.version {
			t.Errorf("splitAPIVersion(%q) = %q, %q; want %q, %q", tt.in, base, version, tt.base, tt.version)
		}
	}
}

func TestNew_ProviderSelection(t *testing.T) {
	ctx := context.Background()
	if c, err := New(ctx, "OpenAI", WithAPIKey("k")); err != nil {
		t.Errorf("openai: unexpected error %v", err)
	} else if _, ok := c.(*OpenAIClient); !ok {
		t.Errorf("expected *OpenAIClient, got %T", c)
	}
	if c, err := New(ctx, "gemini", WithAPIKey("k")); err != nil {
		t.Errorf("gemini: unexpected error %v", err)
	} else if _, ok := c.(*GeminiClient); !ok {
		t.Errorf("expected *GeminiClient, got %T", c)
	}
	if _, err := New(ctx, "claude", WithAPIKey("k")); !errors.Is(err, ErrUnsupportedProvider) {
		t.Errorf("expected ErrUnsupportedProvider, got %v", err)
	}
}
