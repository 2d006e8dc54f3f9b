package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/MrWong99/telebridge/pkg/types"
)

// mockSummariser is a test double for Summariser.
type mockSummariser struct {
	mu     sync.Mutex
	result string
	err    error
	calls  int
	msgs   [][]types.Message
}

func (m *mockSummariser) Summarise(_ context.Context, messages []types.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.msgs = append(m.msgs, messages)
	return m.result, m.err
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		name    string
		msg     types.Message
		wantMin int
		wantMax int
	}{
		{"empty message", types.Message{}, 4, 4},
		{"short message", types.Message{Role: types.RoleUser, Content: "Hi"}, 5, 5},
		{"long message", types.Message{Role: types.RoleAssistant, Content: strings.Repeat("a", 400)}, 100, 110},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := estimateTokens(tt.msg)
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("estimateTokens() = %d, want [%d, %d]", got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestContextManager_AddMessages(t *testing.T) {
	t.Run("adds messages and tracks tokens", func(t *testing.T) {
		s := &mockSummariser{result: "summary"}
		cm := NewContextManager(ContextManagerConfig{MaxTokens: 10000, Summariser: s})

		err := cm.AddMessages(context.Background(),
			types.Message{Role: types.RoleUser, Content: "Hello there!"},
			types.Message{Role: types.RoleAssistant, Content: "Hi, this is Tangerine Bank."},
		)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := len(cm.Messages()); got != 2 {
			t.Fatalf("expected 2 messages, got %d", got)
		}
		if cm.TokenEstimate() == 0 {
			t.Error("expected non-zero token estimate")
		}
		if s.calls != 0 {
			t.Errorf("expected no summarisation calls, got %d", s.calls)
		}
	})

	t.Run("summarises the oldest half past the threshold", func(t *testing.T) {
		s := &mockSummariser{result: "caller agreed to pay on Friday"}
		cm := NewContextManager(ContextManagerConfig{MaxTokens: 100, ThresholdRatio: 0.5, Summariser: s})

		long := strings.Repeat("x", 200) // ≈ 54 tokens
		err := cm.AddMessages(context.Background(),
			types.Message{Role: types.RoleUser, Content: long},
			types.Message{Role: types.RoleAssistant, Content: long},
		)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if s.calls != 1 || len(s.msgs[0]) != 1 {
			t.Fatalf("summariser calls = %d, msgs = %v", s.calls, s.msgs)
		}

		msgs := cm.Messages()
		if len(msgs) != 2 {
			t.Fatalf("expected summary + 1 message, got %d", len(msgs))
		}
		if msgs[0].Role != types.RoleSystem || !strings.Contains(msgs[0].Content, "pay on Friday") {
			t.Errorf("first message = %+v, want system summary", msgs[0])
		}
		if msgs[1].Role != types.RoleAssistant {
			t.Errorf("retained message = %+v", msgs[1])
		}
	})

	t.Run("summariser failure keeps history", func(t *testing.T) {
		s := &mockSummariser{err: errors.New("llm down")}
		cm := NewContextManager(ContextManagerConfig{MaxTokens: 20, Summariser: s})

		err := cm.AddMessages(context.Background(),
			types.Message{Role: types.RoleUser, Content: strings.Repeat("a", 80)},
			types.Message{Role: types.RoleAssistant, Content: strings.Repeat("b", 80)},
		)
		if err == nil {
			t.Fatal("expected error from summariser")
		}
		if got := len(cm.Messages()); got != 2 {
			t.Errorf("expected history to be kept, got %d messages", got)
		}
	})

	t.Run("nil summariser drops oldest", func(t *testing.T) {
		cm := NewContextManager(ContextManagerConfig{MaxTokens: 20})
		_ = cm.AddMessages(context.Background(),
			types.Message{Role: types.RoleUser, Content: strings.Repeat("a", 80)},
			types.Message{Role: types.RoleAssistant, Content: strings.Repeat("b", 80)},
		)
		msgs := cm.Messages()
		if len(msgs) != 1 || msgs[0].Role != types.RoleAssistant {
			t.Errorf("messages = %+v, want only the newest", msgs)
		}
	})

	t.Run("zero budget never summarises", func(t *testing.T) {
		s := &mockSummariser{result: "x"}
		cm := NewContextManager(ContextManagerConfig{Summariser: s})
		_ = cm.AddMessages(context.Background(),
			types.Message{Role: types.RoleUser, Content: strings.Repeat("a", 4000)},
			types.Message{Role: types.RoleAssistant, Content: "ok"},
		)
		if s.calls != 0 {
			t.Errorf("expected no summarisation, got %d calls", s.calls)
		}
	})
}

func TestContextManager_Reset(t *testing.T) {
	cm := NewContextManager(ContextManagerConfig{MaxTokens: 10000})
	_ = cm.AddMessages(context.Background(), types.Message{Role: types.RoleUser, Content: "Hello"})

	cm.Reset()

	if cm.TokenEstimate() != 0 {
		t.Errorf("expected 0 tokens after reset, got %d", cm.TokenEstimate())
	}
	if msgs := cm.Messages(); len(msgs) != 0 {
		t.Errorf("expected 0 messages after reset, got %d", len(msgs))
	}
}
