package transcript

import (
	"context"
	"strings"

	"github.com/MrWong99/telebridge/internal/transcript/phonetic"
	"github.com/MrWong99/telebridge/pkg/types"
)

// CorrectorOption is a functional option for configuring a [KeywordCorrector].
type CorrectorOption func(*KeywordCorrector)

// WithMatcher replaces the default [phonetic.Matcher].
func WithMatcher(m PhoneticMatcher) CorrectorOption {
	return func(c *KeywordCorrector) {
		c.matcher = m
	}
}

// WithTrustedConfidence leaves a window untouched when every word in it has
// an STT confidence of at least threshold. Only applies when the transcript
// carries per-word details aligned with its text. Zero (the default)
// disables the check.
func WithTrustedConfidence(threshold float64) CorrectorOption {
	return func(c *KeywordCorrector) {
		c.trusted = threshold
	}
}

// KeywordCorrector replaces misheard keywords in STT output. At each word it
// tries windows from the longest keyword's word count down to one word and
// takes the first match, so multi-word keywords win over partial matches. A
// window is skipped when a neighbouring word it swept up does not belong to
// the keyword.
//
// KeywordCorrector is safe for concurrent use.
type KeywordCorrector struct {
	matcher PhoneticMatcher
	trusted float64
}

var _ Corrector = (*KeywordCorrector)(nil)

// NewCorrector returns a [KeywordCorrector] backed by a default
// [phonetic.Matcher] unless [WithMatcher] is given.
func NewCorrector(opts ...CorrectorOption) *KeywordCorrector {
	c := &KeywordCorrector{matcher: phonetic.New()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct implements [Corrector]. It never fails; the error is reserved for
// matchers that do I/O.
func (c *KeywordCorrector) Correct(_ context.Context, t types.Transcript, keywords []string) (*CorrectedTranscript, error) {
	result := &CorrectedTranscript{
		Original:    t,
		Corrected:   t.Text,
		Corrections: []Correction{},
	}
	tokens := strings.Fields(t.Text)
	if len(tokens) == 0 || len(keywords) == 0 {
		return result, nil
	}

	var (
		match    func(string) (string, float64, bool)
		maxWords int
	)
	if pm, ok := c.matcher.(*phonetic.Matcher); ok {
		ks := phonetic.Prepare(keywords)
		maxWords = ks.MaxWords()
		match = func(w string) (string, float64, bool) { return pm.MatchPrepared(w, ks) }
	} else {
		maxWords = maxWordCount(keywords)
		match = func(w string) (string, float64, bool) { return c.matcher.Match(w, keywords) }
	}
	if maxWords == 0 {
		return result, nil
	}

	// Per-word confidence is only usable when it lines up with the tokens.
	var confidences []float64
	if c.trusted > 0 && len(t.Words) == len(tokens) {
		confidences = make([]float64, len(tokens))
		for i, w := range t.Words {
			confidences[i] = w.Confidence
		}
	}

	output := make([]string, 0, len(tokens))
	for i := 0; i < len(tokens); {
		n, replacement := c.matchWindow(tokens, confidences, i, maxWords, match, result)
		if n == 0 {
			output = append(output, tokens[i])
			i++
			continue
		}
		output = append(output, replacement)
		i += n
	}
	result.Corrected = strings.Join(output, " ")
	return result, nil
}

// matchWindow tries windows starting at tokens[i] and returns the number of
// tokens consumed with their replacement text, or 0 when nothing matched.
// Substitutions are recorded in result.
func (c *KeywordCorrector) matchWindow(
	tokens []string,
	confidences []float64,
	i, maxWords int,
	match func(string) (string, float64, bool),
	result *CorrectedTranscript,
) (int, string) {
	for n := min(maxWords, len(tokens)-i); n >= 1; n-- {
		if confidences != nil && c.allTrusted(confidences[i:i+n]) {
			continue
		}
		window := strings.Join(tokens[i:i+n], " ")
		bare := trimPunct(window)
		keyword, conf, ok := match(bare)
		// A window never grows into a keyword with more words than it has.
		if !ok || len(strings.Fields(keyword)) > n {
			continue
		}
		if n > 1 && edgeRedundant(tokens[i:i+n], keyword, conf, match) {
			continue
		}
		if bare == keyword {
			return n, window
		}
		replacement := keyword + window[len(bare):]
		result.Corrections = append(result.Corrections, Correction{
			Original:   window,
			Corrected:  replacement,
			Confidence: conf,
		})
		return n, replacement
	}
	return 0, ""
}

// edgeRedundant reports whether dropping the first or last token of window
// matches keyword at least as well, meaning that token is not part of it.
func edgeRedundant(window []string, keyword string, conf float64, match func(string) (string, float64, bool)) bool {
	for _, trimmed := range [][]string{window[1:], window[:len(window)-1]} {
		k, c, ok := match(trimPunct(strings.Join(trimmed, " ")))
		if ok && k == keyword && c >= conf {
			return true
		}
	}
	return false
}

func (c *KeywordCorrector) allTrusted(confidences []float64) bool {
	for _, v := range confidences {
		if v < c.trusted {
			return false
		}
	}
	return true
}

// trimPunct strips sentence punctuation STT providers attach to words.
func trimPunct(s string) string {
	return strings.TrimRight(s, ".,!?;:")
}

// maxWordCount returns the word count of the longest keyword.
func maxWordCount(keywords []string) int {
	n := 0
	for _, k := range keywords {
		n = max(n, len(strings.Fields(k)))
	}
	return n
}
