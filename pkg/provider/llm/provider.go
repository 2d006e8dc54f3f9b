// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4o,
// Google Gemini, Anthropic Claude through any-llm, or a local Ollama instance)
// and exposes a uniform interface for the call bridge to produce the agent's
// next reply from the conversation history.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"
	"strings"

	"github.com/MrWong99/telebridge/pkg/types"
)

// Usage holds token accounting information returned by the LLM backend.
// All counts are in the model's native token unit and may differ between providers
// for the same textual content.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// Callers should treat a zero-value request as invalid; at minimum Messages must
// be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation history. The last message is typically
	// from the "user" role and drives the response.
	Messages []types.Message

	// Temperature controls output randomness in the range [0.0, 2.0]. Zero
	// leaves the provider default in place.
	Temperature float64

	// MaxTokens caps the number of completion tokens the model may generate.
	// Zero means use the provider default.
	MaxTokens int

	// SystemPrompt is an optional high-priority instruction injected before the
	// conversation history. Providers without a dedicated system field prepend
	// it as a "system"-role message.
	SystemPrompt string
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply.
	Content string

	// FinishReason is why generation stopped ("stop", "length", ...), if reported.
	FinishReason string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	//
	// Returns an error if the request fails or if ctx is cancelled before
	// the completion arrives.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the number of tokens that the given message list would
	// consume in the model's context window. The conversation context manager
	// uses it to decide when to summarise older turns.
	//
	// The result need not be exact but should not undercount.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities returns static metadata describing what this provider's underlying
	// model supports.
	Capabilities() types.ModelCapabilities
}

// EstimateTokens is the character-based approximation shared by providers
// without a tokenizer: about four characters per token plus a small
// per-message overhead for role and formatting.
func EstimateTokens(messages []types.Message) int {
	total := 0
	for _, m := range messages {
		total += (len(m.Content) + 3) / 4
		total += 4
	}
	return total
}

// SpokenReply prepares a completion for speech. When generation hit the
// token limit the reply is cut back to its last complete sentence so the
// caller never hears a clause break off mid-word.
func SpokenReply(content, finishReason string) string {
	content = strings.TrimSpace(content)
	switch finishReason {
	case "length", "max_tokens", "MAX_TOKENS":
	default:
		return content
	}
	if i := strings.LastIndexAny(content, ".!?"); i > 0 {
		return content[:i+1]
	}
	return content
}
