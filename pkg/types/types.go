// Package types holds the values that travel between the providers and the
// call bridge: chat messages, transcripts and transcript lines. Anything
// owned by a single package stays in that package.
package types

import "time"

// Chat roles for [Message.Role].
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Transcript is what a speech-to-text backend heard in one utterance.
type Transcript struct {
	Text string

	// Language is the language code the backend used or detected. Empty
	// when unknown.
	Language string

	// Confidence in [0, 1]; zero when the backend reports none.
	Confidence float64

	// Words is nil unless the backend returns word timings.
	Words []WordDetail

	// Duration of the audio that was transcribed.
	Duration time.Duration
}

// WordDetail is one recognised word, timed from the start of the utterance.
type WordDetail struct {
	Word       string
	Start, End time.Duration
	Confidence float64
}

// Speaker labels for [TranscriptEntry.Speaker].
const (
	SpeakerUser  = "User"
	SpeakerAgent = "Agent"
)

// TranscriptEntry is one line said on a call.
type TranscriptEntry struct {
	CallSID string
	Speaker string

	// Text after keyword correction.
	Text string

	// RawText is the speech-to-text output before correction. Empty for
	// agent lines.
	RawText string

	Timestamp time.Time
}

// Message is one turn of a chat completion history.
type Message struct {
	Role    string
	Content string
}

// ModelCapabilities are the limits of a chat model.
type ModelCapabilities struct {
	// ContextWindow counts prompt and completion tokens together.
	ContextWindow int

	// MaxOutputTokens caps a single completion.
	MaxOutputTokens int
}

// KeywordBoost asks a speech-to-text backend to favour a term the caller is
// likely to say, such as a company or product name. Boost uses the
// backend's own scale.
type KeywordBoost struct {
	Keyword string
	Boost   float64
}
