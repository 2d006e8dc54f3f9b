// Package vad defines the voice activity detection layer of the bridge.
//
// Detection is split in two. A [Classifier] turns one fixed-size PCM frame
// into a speech probability; it is the interchangeable strategy (a neural
// model, the WebRTC rule-based detector, or a dependency-free energy gate).
// A [Detector] owns the endpointing state machine on top of a classifier: it
// debounces speech start and end on the audio clock and tells the caller when
// an utterance is complete.
//
// An [Engine] is the process-wide factory for classifiers. Loaded models live
// in the engine and are shared read-only by every call; per-stream state
// (recurrent model state, noise baselines) lives in the classifier. Backends
// that cannot be loaded report [ErrBackendUnavailable], and [OpenWithFallback]
// substitutes the energy strategy once at startup.
//
// Detectors and classifiers are not safe for concurrent use; each call owns
// its own. Engines must be safe for concurrent use.
package vad

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBackendUnavailable is returned by backend constructors when the
	// backend cannot run in this process (no cgo, missing shared library or
	// model file).
	ErrBackendUnavailable = errors.New("vad: backend unavailable")

	// ErrFrameSize is returned when a frame does not match the geometry a
	// classifier requires. Callers must pre-split audio; frames are never
	// truncated.
	ErrFrameSize = errors.New("vad: unsupported frame size")
)

// Defaults for [Config].
const (
	DefaultThreshold          = 0.5
	DefaultMinSpeechDuration  = 250 * time.Millisecond
	DefaultMinSilenceDuration = 500 * time.Millisecond
)

// Config holds the per-call detection parameters.
type Config struct {
	// SampleRate is the rate of the PCM frames given to the detector.
	SampleRate int

	// Threshold is the sensitivity in [0, 1]. A frame counts as speech when
	// its probability is at least Threshold. Energy and WebRTC strategies also
	// derive their internal sensitivity from it.
	Threshold float64

	// MinSpeechDuration is how long speech must last before it is confirmed.
	MinSpeechDuration time.Duration

	// MinSilenceDuration is how long silence must last after confirmed speech
	// before the utterance ends.
	MinSilenceDuration time.Duration
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("vad: sample rate must be positive, got %d", c.SampleRate))
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vad: threshold must be in [0, 1], got %v", c.Threshold))
	}
	if c.MinSpeechDuration < 0 {
		errs = append(errs, fmt.Errorf("vad: negative min speech duration %v", c.MinSpeechDuration))
	}
	if c.MinSilenceDuration < 0 {
		errs = append(errs, fmt.Errorf("vad: negative min silence duration %v", c.MinSilenceDuration))
	}
	return errors.Join(errs...)
}

// Classifier scores single PCM frames for one audio stream.
type Classifier interface {
	// Probability returns the speech probability of frame, which must be
	// little-endian 16-bit mono PCM at the configured sample rate. Rule-based
	// strategies return exactly 0 or 1.
	Probability(frame []byte) (float64, error)

	// FrameSamples is the exact number of samples Probability accepts, or 0
	// if any frame length is allowed.
	FrameSamples() int

	// ResetHistory discards adaptive state such as a noise-floor baseline or
	// recurrent model state. It is independent of [Detector.Reset].
	ResetHistory()

	// Close releases the classifier. Calling Close more than once is safe.
	Close() error
}

// ThresholdReporter is implemented by classifiers with an adaptive decision
// threshold. [Detector.Info] includes the current value.
type ThresholdReporter interface {
	CurrentThreshold() float64
}

// Engine creates classifiers for new calls.
type Engine interface {
	// Name identifies the strategy ("silero", "webrtc", "energy").
	Name() string

	// NewClassifier returns a classifier for one stream. It fails when cfg
	// asks for a geometry the strategy cannot handle.
	NewClassifier(cfg Config) (Classifier, error)
}
