// Package anyllm reaches the LLM vendors without a dedicated adapter
// (Anthropic, Mistral, Groq, local llama.cpp servers and others) through
// github.com/mozilla-ai/any-llm-go.
//
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey(key))
package anyllm

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/telebridge/pkg/provider/llm"
	"github.com/MrWong99/telebridge/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

type constructor func(...anyllmlib.Option) (anyllmlib.Provider, error)

// backends maps vendor names to their any-llm-go constructors. The generic
// wrapper keeps each vendor's concrete return type out of the table.
var backends = map[string]constructor{
	"anthropic": wrap(anthropic.New),
	"deepseek":  wrap(deepseek.New),
	"gemini":    wrap(gemini.New),
	"groq":      wrap(groq.New),
	"llamacpp":  wrap(llamacpp.New),
	"llamafile": wrap(llamafile.New),
	"mistral":   wrap(mistral.New),
	"ollama":    wrap(ollama.New),
	"openai":    wrap(anyllmoai.New),
}

func wrap[P anyllmlib.Provider](fn func(...anyllmlib.Option) (P, error)) constructor {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		return fn(opts...)
	}
}

// Backends returns the vendor names New accepts, sorted.
func Backends() []string {
	return slices.Sorted(maps.Keys(backends))
}

// Provider implements llm.Provider for one vendor and model.
type Provider struct {
	backend anyllmlib.Provider
	model   string
}

// New creates a Provider. Without an explicit anyllmlib.WithAPIKey the
// vendor's usual environment variable is consulted.
func New(vendor, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if vendor == "" {
		return nil, errors.New("anyllm: vendor is required")
	}
	if model == "" {
		return nil, errors.New("anyllm: model is required")
	}
	ctor, ok := backends[strings.ToLower(vendor)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported vendor %q (supported: %s)", vendor, strings.Join(Backends(), ", "))
	}
	backend, err := ctor(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: %s: %w", vendor, err)
	}
	return &Provider{backend: backend, model: model}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := p.backend.Completion(ctx, p.buildParams(req))
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("anyllm: response has no choices")
	}
	choice := resp.Choices[0]
	out := &llm.CompletionResponse{
		Content:      llm.SpokenReply(choice.Message.ContentString(), choice.FinishReason),
		FinishReason: choice.FinishReason,
	}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
	}
	return out, nil
}

// CountTokens implements llm.Provider.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return modelCapabilities(p.model)
}

func (p *Provider) buildParams(req llm.CompletionRequest) anyllmlib.CompletionParams {
	msgs := make([]anyllmlib.Message, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}
	params := anyllmlib.CompletionParams{Model: p.model, Messages: msgs}
	if req.Temperature != 0 {
		params.Temperature = &req.Temperature
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = &req.MaxTokens
	}
	return params
}

// modelCapabilities guesses limits from the model family. Local models get
// the small window most llama.cpp servers are started with.
func modelCapabilities(model string) types.ModelCapabilities {
	m := strings.ToLower(model)
	c := types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}
	switch {
	case strings.HasPrefix(m, "claude"):
		c.ContextWindow, c.MaxOutputTokens = 200_000, 8_192
	case strings.Contains(m, "gemini-1.5-pro"):
		c.ContextWindow, c.MaxOutputTokens = 2_097_152, 8_192
	case strings.HasPrefix(m, "gemini"):
		c.ContextWindow, c.MaxOutputTokens = 1_048_576, 8_192
	case strings.HasPrefix(m, "gpt-4o"):
		c.MaxOutputTokens = 16_384
	case strings.HasPrefix(m, "gpt-3.5-turbo"):
		c.ContextWindow = 16_385
	case strings.HasPrefix(m, "deepseek"):
		c.ContextWindow, c.MaxOutputTokens = 64_000, 8_192
	case strings.HasPrefix(m, "llama"), strings.HasPrefix(m, "mistral"), strings.HasPrefix(m, "qwen"):
		c.ContextWindow = 32_768
	}
	return c
}
