package llm

import "testing"

func TestSpokenReply(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, content, finish, want string
	}{
		{"complete reply is only trimmed", "  Your balance is ten dollars. ", "stop", "Your balance is ten dollars."},
		{"truncated reply drops the broken clause", "Your order shipped. It should arrive on Tue", "length", "Your order shipped."},
		{"question mark is a sentence end", "Can I help? Also, the", "max_tokens", "Can I help?"},
		{"no sentence end keeps everything", "One moment while I", "length", "One moment while I"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := SpokenReply(tt.content, tt.finish); got != tt.want {
				t.Errorf("SpokenReply(%q, %q) = %q, want %q", tt.content, tt.finish, got, tt.want)
			}
		})
	}
}
