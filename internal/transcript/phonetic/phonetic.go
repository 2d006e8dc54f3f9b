// Package phonetic matches misheard words against a list of known keywords
// using Double Metaphone codes combined with Jaro-Winkler similarity.
//
// Matching runs in two passes. Keywords whose Double Metaphone codes overlap
// the input's codes are phonetic candidates and are accepted above the
// phonetic threshold (default 0.70). When no phonetic candidate is found, a
// pure Jaro-Winkler pass accepts keywords above the stricter fuzzy threshold
// (default 0.85).
//
// Multi-word keywords such as "overdraft protection" are supported: codes are
// computed per word and ranking uses the better of the full-string and the
// space-stripped score, so "over draft" still ranks "overdraft" highly.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched keyword to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic candidate exists. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher is read-only after construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// keyword is one prepared keyword.
type keyword struct {
	original string
	lower    string
	tokens   []string
	codes    map[string]struct{}
}

// Keywords holds keywords with their phonetic codes computed once, so a
// transcript can be scanned window by window without recomputing them.
type Keywords struct {
	list     []keyword
	maxWords int
}

// Prepare computes phonetic codes for every non-blank keyword.
func Prepare(keywords []string) *Keywords {
	ks := &Keywords{list: make([]keyword, 0, len(keywords))}
	for _, k := range keywords {
		lower := strings.ToLower(strings.TrimSpace(k))
		if lower == "" {
			continue
		}
		tokens := strings.Fields(lower)
		ks.list = append(ks.list, keyword{
			original: k,
			lower:    lower,
			tokens:   tokens,
			codes:    codesForTokens(tokens),
		})
		ks.maxWords = max(ks.maxWords, len(tokens))
	}
	return ks
}

// Len reports the number of prepared keywords.
func (ks *Keywords) Len() int { return len(ks.list) }

// MaxWords reports the word count of the longest keyword, or 0 when empty.
func (ks *Keywords) MaxWords() int { return ks.maxWords }

// Match finds the keyword most phonetically similar to word, which may be a
// single word or a space-separated phrase. When matched is false, corrected
// equals word and confidence is 0.
func (m *Matcher) Match(word string, keywords []string) (corrected string, confidence float64, matched bool) {
	return m.MatchPrepared(word, Prepare(keywords))
}

// MatchPrepared is [Matcher.Match] against keywords prepared by [Prepare].
func (m *Matcher) MatchPrepared(word string, ks *Keywords) (corrected string, confidence float64, matched bool) {
	if ks == nil || ks.Len() == 0 || strings.TrimSpace(word) == "" {
		return word, 0, false
	}

	wordLower := strings.ToLower(strings.TrimSpace(word))
	wordTokens := strings.Fields(wordLower)
	inputCodes := codesForTokens(wordTokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)
	for _, k := range ks.list {
		score := bestJWScore(wordTokens, k.tokens, wordLower, k.lower)
		if codesOverlap(inputCodes, k.codes) {
			if score >= m.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = k.original, score, true
			}
			continue
		}
		if !bestPhonetic && score >= m.fuzzyThreshold && score > bestScore {
			best, bestScore = k.original, score
		}
	}

	if best == "" {
		return word, 0, false
	}
	return best, bestScore, true
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
// Empty codes are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the higher Jaro-Winkler similarity of the full strings and
// the space-stripped strings.
func bestJWScore(inputTokens, keywordTokens []string, inputFull, keywordFull string) float64 {
	score := matchr.JaroWinkler(inputFull, keywordFull, false)
	if len(inputTokens) > 1 || len(keywordTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(keywordTokens, ""), false); s > score {
			score = s
		}
	}
	return score
}
