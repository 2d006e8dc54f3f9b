// Package webrtc implements the rule-based VAD strategy using the WebRTC
// voice activity detector (github.com/maxhawkins/go-webrtcvad).
//
// The detector is a boolean speech/non-speech decision per frame and only
// accepts 10, 20 or 30 ms frames at 8, 16, 32 or 48 kHz. Any other geometry is
// rejected with [vad.ErrFrameSize].
//
// The backend requires cgo. Without it, [New] returns
// [vad.ErrBackendUnavailable].
package webrtc

import (
	"fmt"
	"slices"
	"time"

	"github.com/MrWong99/telebridge/pkg/provider/vad"
)

// Name is the strategy name reported by the engine.
const Name = "webrtc"

// DefaultFrameDuration is the frame length classifiers expect.
const DefaultFrameDuration = 20 * time.Millisecond

var (
	validRates     = []int{8000, 16000, 32000, 48000}
	validDurations = []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}
)

// Option configures an engine.
type Option func(*options)

type options struct {
	mode          int // -1: derive from threshold
	frameDuration time.Duration
}

// WithMode fixes the aggressiveness mode (0 least aggressive, 3 most). By
// default the mode is derived from the threshold as int(threshold*3).
func WithMode(mode int) Option {
	return func(o *options) {
		o.mode = mode
	}
}

// WithFrameDuration sets the frame length (10, 20 or 30 ms).
func WithFrameDuration(d time.Duration) Option {
	return func(o *options) {
		o.frameDuration = d
	}
}

func newOptions(opts []Option) (options, error) {
	o := options{mode: -1, frameDuration: DefaultFrameDuration}
	for _, opt := range opts {
		opt(&o)
	}
	if o.mode > 3 {
		return o, fmt.Errorf("webrtc: mode must be 0..3, got %d", o.mode)
	}
	if !slices.Contains(validDurations, o.frameDuration) {
		return o, fmt.Errorf("%w: webrtc frames must be 10, 20 or 30 ms, got %v", vad.ErrFrameSize, o.frameDuration)
	}
	return o, nil
}

// ModeForThreshold maps a [0, 1] sensitivity to a WebRTC aggressiveness mode.
func ModeForThreshold(threshold float64) int {
	return min(max(int(threshold*3), 0), 3)
}

// frameSamples validates the sample rate and returns the frame length.
func (o options) frameSamples(rate int) (int, error) {
	if !slices.Contains(validRates, rate) {
		return 0, fmt.Errorf("%w: webrtc supports 8/16/32/48 kHz, got %d Hz", vad.ErrFrameSize, rate)
	}
	return int(int64(rate) * int64(o.frameDuration) / int64(time.Second)), nil
}

func (o options) modeFor(cfg vad.Config) int {
	if o.mode >= 0 {
		return o.mode
	}
	return ModeForThreshold(cfg.Threshold)
}
