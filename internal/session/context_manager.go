package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/MrWong99/telebridge/pkg/provider/llm"
	"github.com/MrWong99/telebridge/pkg/types"
)

// summaryPrefix marks summary messages returned by [ContextManager.Messages].
const summaryPrefix = "[Earlier in this call]: "

// ContextManager holds the conversation history of one call and keeps it
// within a token budget.
//
// When the estimated token count exceeds thresholdRatio × maxTokens, the
// oldest half of the messages is summarised and replaced by a compact summary
// message. A failed summarisation drops nothing: the history keeps growing
// and the next append retries.
//
// All methods are safe for concurrent use.
type ContextManager struct {
	maxTokens      int
	thresholdRatio float64
	summariser     Summariser

	mu            sync.Mutex
	currentTokens int
	messages      []types.Message
	summaries     []string
	summarising   bool
}

// ContextManagerConfig configures a [ContextManager].
type ContextManagerConfig struct {
	// MaxTokens is the history budget (e.g., 4000).
	MaxTokens int

	// ThresholdRatio is the fraction of MaxTokens at which summarisation is
	// triggered. Defaults to 0.75 if zero or negative.
	ThresholdRatio float64

	// Summariser is used to compress older messages when the threshold is
	// exceeded. When nil, the oldest messages are dropped instead.
	Summariser Summariser
}

// NewContextManager creates a new [ContextManager] with the given configuration.
func NewContextManager(cfg ContextManagerConfig) *ContextManager {
	ratio := cfg.ThresholdRatio
	if ratio <= 0 {
		ratio = 0.75
	}
	return &ContextManager{
		maxTokens:      cfg.MaxTokens,
		thresholdRatio: ratio,
		summariser:     cfg.Summariser,
	}
}

// AddMessages appends messages and updates the token estimate. If the
// budget threshold is exceeded, the oldest half of the messages is
// summarised and replaced.
func (cm *ContextManager) AddMessages(ctx context.Context, msgs ...types.Message) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	for _, m := range msgs {
		cm.messages = append(cm.messages, m)
		cm.currentTokens += estimateTokens(m)
	}

	threshold := int(float64(cm.maxTokens) * cm.thresholdRatio)
	if cm.maxTokens > 0 && cm.currentTokens > threshold && len(cm.messages) > 1 && !cm.summarising {
		if err := cm.summariseOldest(ctx); err != nil {
			return fmt.Errorf("context manager auto-summarise: %w", err)
		}
	}
	return nil
}

// Messages returns the history ready for an LLM request: summaries first as
// system messages, then the retained messages in order.
func (cm *ContextManager) Messages() []types.Message {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	result := make([]types.Message, 0, len(cm.summaries)+len(cm.messages))
	for _, s := range cm.summaries {
		result = append(result, types.Message{
			Role:    types.RoleSystem,
			Content: summaryPrefix + s,
		})
	}
	return append(result, cm.messages...)
}

// TokenEstimate returns the current estimated token count, including
// summary tokens.
func (cm *ContextManager) TokenEstimate() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.currentTokens
}

// Reset clears all messages and summaries.
func (cm *ContextManager) Reset() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.messages = cm.messages[:0]
	cm.summaries = cm.summaries[:0]
	cm.currentTokens = 0
}

// summariseOldest compresses the oldest half of messages into a summary.
// Must be called with cm.mu held; the lock is released during the LLM call.
func (cm *ContextManager) summariseOldest(ctx context.Context) error {
	half := max(len(cm.messages)/2, 1)

	toSummarise := make([]types.Message, half)
	copy(toSummarise, cm.messages[:half])

	var summary string
	if cm.summariser != nil {
		cm.summarising = true
		cm.mu.Unlock()
		s, err := cm.summariser.Summarise(ctx, toSummarise)
		cm.mu.Lock()
		cm.summarising = false
		if err != nil {
			return err
		}
		summary = s
		if len(cm.messages) < half {
			// Reset ran while unlocked.
			return nil
		}
	}

	// Messages may have been appended while unlocked; the first half are still
	// the ones summarised.
	removed := 0
	for _, m := range cm.messages[:half] {
		removed += estimateTokens(m)
	}
	cm.messages = append(cm.messages[:0:0], cm.messages[half:]...)
	cm.currentTokens -= removed

	if summary != "" {
		cm.summaries = append(cm.summaries, summary)
		cm.currentTokens += estimateTokens(types.Message{Role: types.RoleSystem, Content: summaryPrefix + summary})
	}
	return nil
}

func estimateTokens(m types.Message) int {
	return llm.EstimateTokens([]types.Message{m})
}
