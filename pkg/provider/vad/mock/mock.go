// Package mock provides test doubles for the vad package interfaces.
//
// Use Classifier to script speech probabilities frame by frame, and Engine to
// hand it out and record the configurations requested.
//
// Example:
//
//	cls := &mock.Classifier{Probs: []float64{0, 0, 0.9, 0.9, 0.9}}
//	det, _ := vad.NewDetector(cls, cfg)
package mock

import (
	"sync"

	"github.com/MrWong99/telebridge/pkg/provider/vad"
)

// Compile-time interface assertions.
var (
	_ vad.Engine     = (*Engine)(nil)
	_ vad.Classifier = (*Classifier)(nil)
)

// Classifier is a mock implementation of vad.Classifier.
//
// The probability for each call is taken, in order of precedence, from Func,
// from Probs (one entry per call; Default once exhausted), or Default.
type Classifier struct {
	mu sync.Mutex

	// Func, if set, computes the probability from the frame.
	Func func(frame []byte) float64

	// Probs are returned one per call.
	Probs []float64

	// Default is returned when Probs is exhausted.
	Default float64

	// Samples is returned by FrameSamples.
	Samples int

	// Err, if non-nil, is returned by Probability.
	Err error

	// Frames records a copy of every frame passed to Probability.
	Frames [][]byte

	// ResetHistoryCalls counts ResetHistory invocations.
	ResetHistoryCalls int

	// Closed is set by Close.
	Closed bool
}

// Probability implements vad.Classifier.
func (c *Classifier) Probability(frame []byte) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Frames = append(c.Frames, append([]byte(nil), frame...))
	if c.Err != nil {
		return 0, c.Err
	}
	if c.Func != nil {
		return c.Func(frame), nil
	}
	i := len(c.Frames) - 1
	if i < len(c.Probs) {
		return c.Probs[i], nil
	}
	return c.Default, nil
}

// FrameSamples implements vad.Classifier.
func (c *Classifier) FrameSamples() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Samples
}

// ResetHistory implements vad.Classifier.
func (c *Classifier) ResetHistory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ResetHistoryCalls++
}

// Close implements vad.Classifier.
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Closed = true
	return nil
}

// FrameCount returns the number of frames classified so far.
func (c *Classifier) FrameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Frames)
}

// Engine is a mock implementation of vad.Engine.
type Engine struct {
	mu sync.Mutex

	// NameValue is returned by Name. Defaults to "mock".
	NameValue string

	// New, if set, builds the classifier for each call. Otherwise a fresh
	// Classifier with Default 0 is returned.
	New func(cfg vad.Config) vad.Classifier

	// NewClassifierErr, if non-nil, is returned by NewClassifier.
	NewClassifierErr error

	// NewClassifierCalls records the config of every NewClassifier call.
	NewClassifierCalls []vad.Config
}

// Name implements vad.Engine.
func (e *Engine) Name() string {
	if e.NameValue == "" {
		return "mock"
	}
	return e.NameValue
}

// NewClassifier implements vad.Engine.
func (e *Engine) NewClassifier(cfg vad.Config) (vad.Classifier, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.NewClassifierCalls = append(e.NewClassifierCalls, cfg)
	if e.NewClassifierErr != nil {
		return nil, e.NewClassifierErr
	}
	if e.New != nil {
		return e.New(cfg), nil
	}
	return &Classifier{}, nil
}

// Calls returns the number of NewClassifier calls.
func (e *Engine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.NewClassifierCalls)
}
