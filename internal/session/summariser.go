// Package session provides per-call conversation state for the telebridge
// agent.
//
// It includes context window management ([ContextManager]), conversation
// summarisation ([Summariser], [LLMSummariser]) and redialling of
// conversational-AI sessions that drop mid-call ([Redialer]).
//
// All exported types are safe for concurrent use.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/telebridge/pkg/provider/llm"
	"github.com/MrWong99/telebridge/pkg/types"
)

// summarisationPrompt is the system prompt sent to the LLM when summarising
// conversation segments.
const summarisationPrompt = `Summarise the following phone conversation between a customer and a voice agent.
Preserve: the customer's stated situation, commitments and promises made, amounts and dates mentioned,
objections raised, and any agreed next steps.
Be concise but keep every fact the agent may need later in the call.`

// Summariser produces a concise summary of a conversation segment.
type Summariser interface {
	// Summarise takes a slice of messages and returns a condensed summary string.
	Summarise(ctx context.Context, messages []types.Message) (string, error)
}

// LLMSummariser uses an LLM provider to summarise conversations.
type LLMSummariser struct {
	llm llm.Provider
}

// NewLLMSummariser creates a new [LLMSummariser] backed by the given provider.
func NewLLMSummariser(provider llm.Provider) *LLMSummariser {
	return &LLMSummariser{llm: provider}
}

// Summarise formats messages as a transcript, sends it as a single user
// message under the summarisation prompt and returns the model's reply.
func (s *LLMSummariser) Summarise(ctx context.Context, messages []types.Message) (string, error) {
	if len(messages) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", speakerFor(m.Role), m.Content)
	}

	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: summarisationPrompt,
		Messages: []types.Message{
			{Role: types.RoleUser, Content: sb.String()},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("summarise: %w", err)
	}
	if resp == nil {
		return "", nil
	}
	return resp.Content, nil
}

func speakerFor(role string) string {
	switch role {
	case types.RoleUser:
		return types.SpeakerUser
	case types.RoleAssistant:
		return types.SpeakerAgent
	}
	return role
}
