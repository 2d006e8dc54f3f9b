//go:build cgo

package webrtc

import (
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/MrWong99/telebridge/pkg/provider/vad"
)

// Compile-time interface assertions.
var (
	_ vad.Engine     = (*Engine)(nil)
	_ vad.Classifier = (*Classifier)(nil)
)

// Engine creates WebRTC classifiers. It is safe for concurrent use.
type Engine struct {
	opts options
}

// New returns a WebRTC [Engine]. It verifies that a native detector can be
// instantiated.
func New(opts ...Option) (*Engine, error) {
	o, err := newOptions(opts)
	if err != nil {
		return nil, err
	}
	if _, err := webrtcvad.New(); err != nil {
		return nil, fmt.Errorf("%w: webrtc: %v", vad.ErrBackendUnavailable, err)
	}
	return &Engine{opts: o}, nil
}

// Name implements [vad.Engine].
func (e *Engine) Name() string { return Name }

// NewClassifier implements [vad.Engine].
func (e *Engine) NewClassifier(cfg vad.Config) (vad.Classifier, error) {
	n, err := e.opts.frameSamples(cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	v, err := webrtcvad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc: new detector: %w", err)
	}
	if err := v.SetMode(e.opts.modeFor(cfg)); err != nil {
		return nil, fmt.Errorf("webrtc: set mode: %w", err)
	}
	return &Classifier{v: v, rate: cfg.SampleRate, samples: n}, nil
}

// Classifier is one native WebRTC detector.
type Classifier struct {
	v       *webrtcvad.VAD
	rate    int
	samples int
}

// Probability implements [vad.Classifier]; it returns 0 or 1.
func (c *Classifier) Probability(frame []byte) (float64, error) {
	if len(frame) != 2*c.samples {
		return 0, fmt.Errorf("%w: webrtc needs %d samples, got %d bytes", vad.ErrFrameSize, c.samples, len(frame))
	}
	active, err := c.v.Process(c.rate, frame)
	if err != nil {
		return 0, fmt.Errorf("webrtc: process: %w", err)
	}
	if active {
		return 1, nil
	}
	return 0, nil
}

// FrameSamples implements [vad.Classifier].
func (c *Classifier) FrameSamples() int { return c.samples }

// ResetHistory implements [vad.Classifier]. The native detector keeps only
// short-term smoothing, which is left alone.
func (c *Classifier) ResetHistory() {}

// Close implements [vad.Classifier]. The native detector is released by the
// garbage collector.
func (c *Classifier) Close() error { return nil }
