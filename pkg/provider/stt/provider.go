// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., ElevenLabs Scribe,
// Deepgram, Google Speech-to-Text, or a local Whisper server) and exposes a
// uniform batch interface. The call bridge segments caller speech with VAD and
// submits each completed utterance as one request, so providers never see a
// live stream.
//
// Implementations must be safe for concurrent use: several calls may be
// transcribing at the same time.
package stt

import (
	"context"
	"errors"

	"github.com/MrWong99/telebridge/pkg/audio"
	"github.com/MrWong99/telebridge/pkg/types"
)

// ErrEmptyAudio is returned by providers when asked to transcribe an utterance
// that carries no samples.
var ErrEmptyAudio = errors.New("stt: empty audio")

// Config carries the recognition hints for one request.
type Config struct {
	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// An empty string selects the provider default or auto-detection.
	Language string

	// Keywords is a list of vocabulary hints that increase recognition
	// probability for uncommon words such as brand names. Providers without a
	// boosting API ignore it.
	Keywords []types.KeywordBoost
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe converts one utterance of mono 16-bit PCM to text. The frame's
	// SampleRate must be set; providers that need a container (WAV) build it
	// themselves.
	//
	// An utterance that contains no recognisable speech yields a Transcript with
	// empty Text and a nil error. Errors are reserved for transport and API
	// failures, and for ctx cancellation.
	Transcribe(ctx context.Context, utterance audio.AudioFrame, cfg Config) (types.Transcript, error)
}
