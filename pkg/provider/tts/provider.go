// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs or a local
// Coqui server) and returns the synthesised reply as one mono PCM frame at the
// provider's native sample rate. The call bridge resamples it to the
// telephone rate before μ-law encoding.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/MrWong99/telebridge/pkg/audio"
)

// ErrEmptyText is returned when asked to synthesise blank text.
var ErrEmptyText = errors.New("tts: empty text")

// VoiceProfile selects the voice used for synthesis.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier. Empty selects the provider
	// default.
	ID string

	// Name is the human-readable voice name.
	Name string

	// SpeedFactor adjusts speaking rate (0.5–2.0, 1.0 = default, 0 = unset).
	SpeedFactor float64
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize renders text in the given voice. The returned frame is mono
	// 16-bit PCM with SampleRate set. Providers that receive compressed audio
	// (MP3) decode and down-mix it before returning.
	//
	// Returns ErrEmptyText for blank input, and a wrapped error for transport
	// failures or when ctx is cancelled.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (audio.AudioFrame, error)
}
