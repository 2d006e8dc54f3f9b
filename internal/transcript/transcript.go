// Package transcript records what was said on a call and cleans up the
// speech-to-text output before it reaches the language model.
//
// Recording goes through a [Sink]. [FileStore] writes one plain-text file per
// call, [PostgresStore] writes calls and turns to PostgreSQL, [Multi] fans out
// to several sinks, and [Guard] keeps a failing sink from interrupting the
// call.
//
// Correction is done by a [Corrector]. The [KeywordCorrector] replaces
// misheard product and company names with the configured keywords using a
// [PhoneticMatcher].
package transcript

import (
	"context"
	"time"

	"github.com/MrWong99/telebridge/pkg/types"
)

// CallInfo describes a call when its transcript is opened.
type CallInfo struct {
	CallSID   string
	StreamSID string

	// Mode is "cascade" or "convai".
	Mode string

	StartedAt time.Time
}

// Sink receives the transcript of calls. Implementations must be safe for
// concurrent use; entries of different calls may interleave.
type Sink interface {
	// Begin opens the transcript for a call.
	Begin(ctx context.Context, call CallInfo) error

	// Append adds one line to the transcript of entry.CallSID.
	Append(ctx context.Context, entry types.TranscriptEntry) error

	// End closes the transcript for callSID. Appends after End are errors.
	End(ctx context.Context, callSID string) error
}

// Correction captures a single substitution made by a [Corrector].
type Correction struct {
	// Original is the word or phrase as produced by the STT provider.
	Original string

	// Corrected is the keyword that replaced it.
	Corrected string

	// Confidence is the matcher's similarity score (0.0–1.0).
	Confidence float64
}

// CorrectedTranscript pairs the raw transcript with the corrected text.
type CorrectedTranscript struct {
	Original types.Transcript

	// Corrected is the text with all substitutions applied.
	Corrected string

	// Corrections is the ordered list of substitutions. Empty (non-nil) when
	// nothing was changed.
	Corrections []Correction
}

// Corrector fixes STT errors for a list of known keywords.
type Corrector interface {
	Correct(ctx context.Context, t types.Transcript, keywords []string) (*CorrectedTranscript, error)
}

// PhoneticMatcher resolves a word or phrase to the most similar keyword.
// When matched is false, corrected equals word and confidence is 0.
type PhoneticMatcher interface {
	Match(word string, keywords []string) (corrected string, confidence float64, matched bool)
}
