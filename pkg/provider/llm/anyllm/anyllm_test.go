package anyllm

import (
	"slices"
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/telebridge/pkg/provider/llm"
	"github.com/MrWong99/telebridge/pkg/types"
)

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams_SystemPromptFirst(t *testing.T) {
	p := &Provider{model: "claude-3-5-haiku-latest"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are a bank agent.",
		Messages: []types.Message{
			{Role: types.RoleAssistant, Content: "Hello!"},
			{Role: types.RoleUser, Content: "Hi"},
		},
		Temperature: 0.7,
		MaxTokens:   300,
	})

	if params.Model != "claude-3-5-haiku-latest" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(params.Messages))
	}
	if params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Errorf("first role = %q, want system", params.Messages[0].Role)
	}
	if params.Messages[2].Role != types.RoleUser || params.Messages[2].Content != "Hi" {
		t.Errorf("last message = %+v", params.Messages[2])
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("Temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 300 {
		t.Errorf("MaxTokens = %v", params.MaxTokens)
	}
}

func TestBuildParams_ZeroValuesLeftUnset(t *testing.T) {
	p := &Provider{model: "llama3"}
	params := p.buildParams(llm.CompletionRequest{
		Messages: []types.Message{{Role: types.RoleUser, Content: "Hi"}},
	})
	if len(params.Messages) != 1 {
		t.Errorf("expected 1 message without system prompt, got %d", len(params.Messages))
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Errorf("expected nil Temperature and MaxTokens, got %v / %v", params.Temperature, params.MaxTokens)
	}
}

// ── modelCapabilities ─────────────────────────────────────────────────────────

func TestModelCapabilities(t *testing.T) {
	tests := []struct {
		model     string
		ctxWindow int
	}{
		{"gpt-4o", 128_000},
		{"GPT-3.5-Turbo", 16_385},
		{"claude-3-5-sonnet-latest", 200_000},
		{"gemini-1.5-pro", 2_097_152},
		{"gemini-2.0-flash", 1_048_576},
		{"llama3", 32_768},
		{"deepseek-chat", 64_000},
		{"my-custom-model", 128_000},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			if got := modelCapabilities(tt.model).ContextWindow; got != tt.ctxWindow {
				t.Errorf("ContextWindow = %d, want %d", got, tt.ctxWindow)
			}
		})
	}
}

// ── Constructor ───────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty providerName")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestNew_OpenAI_WithAPIKey(t *testing.T) {
	p, err := New("openai", "gpt-4o", anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.model != "gpt-4o" {
		t.Errorf("expected model gpt-4o, got %q", p.model)
	}
}

// TestNew_OpenAI_MissingAPIKey relies on OPENAI_API_KEY being cleared for the test.
func TestNew_OpenAI_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}

func TestNew_LocalBackendsNeedNoKey(t *testing.T) {
	for _, name := range []string{"ollama", "llamacpp", "llamafile"} {
		t.Run(name, func(t *testing.T) {
			if _, err := New(name, "llama3"); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

// ── CountTokens ───────────────────────────────────────────────────────────────

func TestCountTokens(t *testing.T) {
	p := &Provider{model: "gpt-4o"}
	if n, _ := p.CountTokens(nil); n != 0 {
		t.Errorf("expected 0 tokens for empty messages, got %d", n)
	}
	msgs := []types.Message{
		{Role: types.RoleUser, Content: "Hello"},
		{Role: types.RoleAssistant, Content: "Hi there, how can I help?"},
	}
	count, _ := p.CountTokens(msgs)
	single, _ := p.CountTokens(msgs[:1])
	if count <= single {
		t.Errorf("expected more tokens for two messages than one: %d <= %d", count, single)
	}
}

func TestBackends(t *testing.T) {
	got := Backends()
	if !slices.IsSorted(got) {
		t.Errorf("Backends not sorted: %v", got)
	}
	for _, want := range []string{"anthropic", "ollama", "groq"} {
		if !slices.Contains(got, want) {
			t.Errorf("Backends missing %q", want)
		}
	}
}
