// Package energy implements a dependency-free VAD strategy based on frame RMS
// energy against an adaptive noise baseline.
//
// Each classifier keeps the RMS of the last [DefaultHistorySize] frames. Once
// at least [DefaultWarmupFrames] are known, a frame is speech when its RMS
// exceeds
//
//	median(history) + threshold × (max(history) − min(history))
//
// Before that, the fixed [DefaultFallbackThreshold] is used. Probabilities are
// therefore always 0 or 1.
//
// The strategy has no external dependencies and accepts frames of any length,
// which makes it the fallback when the other backends fail to load.
package energy

import (
	"encoding/binary"
	"math"
	"slices"

	"github.com/MrWong99/telebridge/pkg/provider/vad"
)

// Name is the strategy name reported by [Engine.Name].
const Name = "energy"

const (
	// DefaultHistorySize is the number of frames in the noise baseline.
	DefaultHistorySize = 50

	// DefaultWarmupFrames is the history length required before the adaptive
	// threshold replaces the fixed one.
	DefaultWarmupFrames = 10

	// DefaultFallbackThreshold is the RMS threshold (full scale = 1) used
	// during warm-up.
	DefaultFallbackThreshold = 0.01
)

// Compile-time interface assertions.
var (
	_ vad.Engine            = (*Engine)(nil)
	_ vad.Classifier        = (*Classifier)(nil)
	_ vad.ThresholdReporter = (*Classifier)(nil)
)

// Option configures an [Engine].
type Option func(*Engine)

// WithHistorySize sets the baseline length in frames.
func WithHistorySize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.historySize = n
		}
	}
}

// WithWarmupFrames sets the number of frames before the baseline is trusted.
func WithWarmupFrames(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.warmup = n
		}
	}
}

// WithFallbackThreshold sets the RMS threshold used during warm-up.
func WithFallbackThreshold(v float64) Option {
	return func(e *Engine) {
		e.fallback = v
	}
}

// Engine creates energy classifiers. It is stateless and safe for concurrent use.
type Engine struct {
	historySize int
	warmup      int
	fallback    float64
}

// New returns an energy [Engine].
func New(opts ...Option) *Engine {
	e := &Engine{
		historySize: DefaultHistorySize,
		warmup:      DefaultWarmupFrames,
		fallback:    DefaultFallbackThreshold,
	}
	for _, o := range opts {
		o(e)
	}
	if e.warmup > e.historySize {
		e.warmup = e.historySize
	}
	return e
}

// Name implements [vad.Engine].
func (e *Engine) Name() string { return Name }

// NewClassifier implements [vad.Engine]. Any positive sample rate is accepted.
func (e *Engine) NewClassifier(cfg vad.Config) (vad.Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{
		threshold: cfg.Threshold,
		size:      e.historySize,
		warmup:    e.warmup,
		fallback:  e.fallback,
		current:   e.fallback,
		history:   make([]float64, 0, e.historySize),
	}, nil
}

// Classifier is the per-stream energy gate.
type Classifier struct {
	threshold float64
	size      int
	warmup    int
	fallback  float64

	history []float64 // RMS per frame, oldest first
	current float64   // threshold applied to the most recent frame
}

// Probability implements [vad.Classifier]. An empty frame is silence and does
// not enter the baseline.
func (c *Classifier) Probability(frame []byte) (float64, error) {
	n := len(frame) / 2
	if n == 0 {
		return 0, nil
	}
	level := RMS(frame)

	if len(c.history) == c.size {
		c.history = append(c.history[:0], c.history[1:]...)
	}
	c.history = append(c.history, level)

	if len(c.history) >= c.warmup {
		lo, hi := slices.Min(c.history), slices.Max(c.history)
		c.current = median(c.history) + c.threshold*(hi-lo)
	} else {
		c.current = c.fallback
	}

	if level > c.current {
		return 1, nil
	}
	return 0, nil
}

// FrameSamples implements [vad.Classifier]; any length is accepted.
func (c *Classifier) FrameSamples() int { return 0 }

// ResetHistory implements [vad.Classifier] by forgetting the noise baseline.
func (c *Classifier) ResetHistory() {
	c.history = c.history[:0]
	c.current = c.fallback
}

// CurrentThreshold implements [vad.ThresholdReporter].
func (c *Classifier) CurrentThreshold() float64 { return c.current }

// Close implements [vad.Classifier]. It is a no-op.
func (c *Classifier) Close() error { return nil }

// RMS returns the root-mean-square level of little-endian 16-bit PCM,
// normalised so that full scale is 1.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32768
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

func median(v []float64) float64 {
	s := slices.Clone(v)
	slices.Sort(s)
	m := len(s) / 2
	if len(s)%2 == 1 {
		return s[m]
	}
	return (s[m-1] + s[m]) / 2
}
