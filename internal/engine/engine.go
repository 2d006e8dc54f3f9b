// Package engine defines the VoiceEngine interface and its supporting types.
//
// A VoiceEngine runs the conversational loop of a single phone call: it
// receives one complete caller utterance, turns it into text, asks the
// language model for a reply, synthesises that reply and returns a
// [Response] whose audio streams as transport-ready μ-law frames.
//
// Implementations live in sub-packages: [cascade] chains STT, LLM and TTS
// providers, and [s2s] keeps a conversational-AI session alive across
// drops for the relay path.
//
// This package lives under internal/ because it encapsulates application-private
// processing logic and is not intended to be imported by external code.
package engine

import (
	"context"
	"sync/atomic"

	"github.com/MrWong99/telebridge/pkg/audio"
	"github.com/MrWong99/telebridge/pkg/types"
)

// Response is the result of a successful [VoiceEngine.Process] or
// [VoiceEngine.Greet] call.
type Response struct {
	// UserText is the corrected transcript of the caller's utterance. Empty
	// for greetings.
	UserText string

	// RawUserText is the uncorrected STT output.
	RawUserText string

	// Text is the agent's reply in plain text.
	Text string

	// Audio streams the reply as 20 ms μ-law frames at 8 kHz, in playback
	// order. The channel is closed when synthesis completes or when a
	// mid-stream error occurs; check [Response.Err] afterwards. Callers must
	// drain the channel even if they do not use the audio.
	Audio <-chan []byte

	// streamErr stores the error that caused the Audio channel to close early.
	// Access via Err and SetStreamErr.
	streamErr atomic.Pointer[error]
}

// Err returns the error that caused the Audio channel to close prematurely,
// or nil if the stream completed successfully.
func (r *Response) Err() error {
	if p := r.streamErr.Load(); p != nil {
		return *p
	}
	return nil
}

// SetStreamErr records a mid-stream error. The producer should call this
// before closing the Audio channel.
func (r *Response) SetStreamErr(err error) {
	r.streamErr.Store(&err)
}

// Segment wraps the response audio for the playout queue. Stream errors are
// carried over once the audio channel closes.
func (r *Response) Segment(id string) *audio.AudioSegment {
	out := make(chan []byte, cap(r.Audio))
	seg := &audio.AudioSegment{ID: id, Audio: out}
	go func() {
		defer close(out)
		for f := range r.Audio {
			out <- f
		}
		if err := r.Err(); err != nil {
			seg.SetStreamErr(err)
		}
	}()
	return seg
}

// VoiceEngine handles the speech-in / speech-out pipeline of one call.
//
// Callers should not issue concurrent Process calls; the bridge serialises
// turns so the conversation history stays ordered.
type VoiceEngine interface {
	// Greet synthesises the welcome message, records it in the history and
	// returns it as a response. A nil response and nil error mean there is no
	// welcome message.
	Greet(ctx context.Context) (*Response, error)

	// Process transcribes utterance, generates the reply and starts
	// synthesis. It blocks until the reply text is known; audio keeps
	// streaming after Process returns.
	//
	// [ErrNoSpeech] is returned when the utterance transcribes to nothing.
	Process(ctx context.Context, utterance audio.AudioFrame) (*Response, error)

	// History returns the conversation so far, oldest first.
	History() []types.Message

	// Close releases the engine. It is safe to call multiple times.
	Close() error
}
