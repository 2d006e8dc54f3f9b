// Package gemini provides an LLM provider backed by the Google Gen AI SDK
// (Gemini Developer API).
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/MrWong99/telebridge/pkg/provider/llm"
	"github.com/MrWong99/telebridge/pkg/types"
)

const defaultModel = "gemini-2.0-flash"

var _ llm.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*genai.ClientConfig)

// WithBaseURL overrides the API endpoint. Intended for proxies and tests.
func WithBaseURL(u string) Option {
	return func(c *genai.ClientConfig) {
		c.HTTPOptions.BaseURL = u
	}
}

// Provider implements llm.Provider using Gemini.
type Provider struct {
	client *genai.Client
	model  string
}

// New constructs a Gemini provider. An empty model selects gemini-2.0-flash.
func New(ctx context.Context, apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: apiKey must not be empty")
	}
	if model == "" {
		model = defaultModel
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, o := range opts {
		o(cfg)
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Provider{client: client, model: model}, nil
}

// Complete implements llm.Provider. The system prompt is sent as the system
// instruction; assistant turns map to the "model" role.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	contents, sys := buildContents(req)
	if len(contents) == 0 {
		return nil, errors.New("gemini: no messages")
	}

	cfg := &genai.GenerateContentConfig{}
	if sys != "" {
		cfg.SystemInstruction = genai.NewContentFromText(sys, genai.RoleUser)
	}
	if req.Temperature != 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("gemini: empty candidates in response")
	}

	cand := resp.Candidates[0]
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}

	out := &llm.CompletionResponse{
		Content:      strings.TrimSpace(sb.String()),
		FinishReason: strings.ToLower(string(cand.FinishReason)),
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// CountTokens implements llm.Provider.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	caps := types.ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192}
	if strings.Contains(strings.ToLower(p.model), "1.5-pro") {
		caps.ContextWindow = 2_097_152
	}
	return caps
}

// buildContents converts the conversation. System-role history messages are
// folded into the system instruction because Gemini only accepts user and
// model turns.
func buildContents(req llm.CompletionRequest) ([]*genai.Content, string) {
	sys := []string{}
	if req.SystemPrompt != "" {
		sys = append(sys, req.SystemPrompt)
	}
	var contents []*genai.Content
	for _, m := range req.Messages {
		switch m.Role {
		case types.RoleSystem:
			sys = append(sys, m.Content)
		case types.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, strings.Join(sys, "\n\n")
}
