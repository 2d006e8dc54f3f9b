// Package mock provides a scripted [llm.Provider] for tests.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/telebridge/pkg/provider/llm"
	"github.com/MrWong99/telebridge/pkg/types"
)

// Provider answers Complete from Replies, one per call, then from
// CompleteResponse. CompleteErr wins over both. Configure it before use;
// every request is recorded.
type Provider struct {
	CompleteResponse  *llm.CompletionResponse
	Replies           []string
	CompleteErr       error
	TokenCount        int
	CountTokensErr    error
	ModelCapabilities types.ModelCapabilities

	mu       sync.Mutex
	requests []llm.CompletionRequest
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	req.Messages = slices.Clone(req.Messages)
	p.requests = append(p.requests, req)
	switch {
	case p.CompleteErr != nil:
		return nil, p.CompleteErr
	case len(p.Replies) > 0:
		reply := p.Replies[0]
		p.Replies = p.Replies[1:]
		return &llm.CompletionResponse{Content: reply, FinishReason: "stop"}, nil
	}
	return p.CompleteResponse, nil
}

// Requests returns every request Complete received, oldest first.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.requests)
}

func (p *Provider) CountTokens([]types.Message) (int, error) {
	return p.TokenCount, p.CountTokensErr
}

func (p *Provider) Capabilities() types.ModelCapabilities {
	return p.ModelCapabilities
}
