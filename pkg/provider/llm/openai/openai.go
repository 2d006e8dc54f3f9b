// Package openai answers callers through the OpenAI chat completions API or
// any endpoint that speaks it, such as OpenRouter or a local gateway.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/telebridge/pkg/provider/llm"
	"github.com/MrWong99/telebridge/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// Provider implements llm.Provider on top of openai-go.
type Provider struct {
	client oai.Client
	model  string
}

// Option adds a request option to every call.
type Option func(*[]option.RequestOption)

// WithBaseURL points the client at a compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *[]option.RequestOption) { *o = append(*o, option.WithBaseURL(url)) }
}

// WithOrganization sets the OpenAI-Organization header.
func WithOrganization(org string) Option {
	return func(o *[]option.RequestOption) { *o = append(*o, option.WithOrganization(org)) }
}

// WithHeader sends an extra header, e.g. OpenRouter's HTTP-Referer and
// X-Title attribution headers.
func WithHeader(key, value string) Option {
	return func(o *[]option.RequestOption) { *o = append(*o, option.WithHeader(key, value)) }
}

// WithTimeout bounds each request. A caller waiting on silence notices long
// stalls, so the fallback group should get its turn quickly.
func WithTimeout(d time.Duration) Option {
	return func(o *[]option.RequestOption) {
		*o = append(*o, option.WithHTTPClient(&http.Client{Timeout: d}))
	}
}

// New creates a Provider for model. Retries are disabled; the resilience
// layer owns them.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	switch {
	case apiKey == "":
		return nil, errors.New("openai: api key is required")
	case model == "":
		return nil, errors.New("openai: model is required")
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	for _, o := range opts {
		o(&reqOpts)
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Complete implements llm.Provider. A refusal is returned as the reply text
// so the caller hears it instead of silence.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	msgs, err := convertMessages(req)
	if err != nil {
		return nil, err
	}
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: msgs,
	}
	if req.Temperature != 0 {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("openai: response has no choices")
	}
	choice := resp.Choices[0]
	text := choice.Message.Content
	if strings.TrimSpace(text) == "" {
		text = choice.Message.Refusal
	}
	return &llm.CompletionResponse{
		Content:      llm.SpokenReply(text, choice.FinishReason),
		FinishReason: choice.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// CountTokens implements llm.Provider.
func (p *Provider) CountTokens(messages []types.Message) (int, error) {
	return llm.EstimateTokens(messages), nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return modelCapabilities(p.model)
}

// knownModels is matched by prefix in order; the first hit wins.
var knownModels = []struct {
	prefix          string
	contextWindow   int
	maxOutputTokens int
}{
	{"gpt-4.1", 1_047_576, 32_768},
	{"gpt-4o", 128_000, 16_384},
	{"gpt-4-turbo", 128_000, 4_096},
	{"gpt-4", 8_192, 4_096},
	{"gpt-3.5-turbo", 16_385, 4_096},
	{"o1-mini", 128_000, 65_536},
	{"o1", 200_000, 100_000},
	{"o3", 200_000, 100_000},
	{"o4-mini", 200_000, 100_000},
}

func modelCapabilities(model string) types.ModelCapabilities {
	// OpenRouter ids carry a vendor prefix.
	lower := strings.ToLower(model)
	if _, rest, ok := strings.Cut(lower, "/"); ok {
		lower = rest
	}
	for _, m := range knownModels {
		if strings.HasPrefix(lower, m.prefix) {
			return types.ModelCapabilities{ContextWindow: m.contextWindow, MaxOutputTokens: m.maxOutputTokens}
		}
	}
	return types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}
}

func convertMessages(req llm.CompletionRequest) ([]oai.ChatCompletionMessageParamUnion, error) {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case types.RoleSystem:
			out = append(out, oai.SystemMessage(m.Content))
		case types.RoleUser:
			out = append(out, oai.UserMessage(m.Content))
		case types.RoleAssistant:
			out = append(out, oai.AssistantMessage(m.Content))
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	return out, nil
}
