// Package s2s defines the speech-to-speech provider abstraction used by the
// conversational-AI relay.
//
// A speech-to-speech provider accepts a continuous stream of caller audio and
// produces agent audio, transcripts and turn-taking signals on its own. The
// bridge only moves audio between the phone call and the provider, so VAD, STT,
// LLM and TTS are not involved on this path.
//
// A session is opened with [Provider.Connect] and exposes a single ordered
// event stream through [SessionHandle.Events]. Keep-alive traffic (pings) is
// answered inside the implementation and never surfaces as an event.
package s2s

import (
	"context"
	"errors"

	"github.com/MrWong99/telebridge/pkg/provider/tts"
)

// ErrSessionClosed is returned by SendAudio after Close was called or the
// remote end hung up.
var ErrSessionClosed = errors.New("s2s: session closed")

// EventType discriminates the payload carried by an [Event].
type EventType int

const (
	// EventAudio carries a chunk of agent speech as 16-bit little-endian mono
	// PCM. [Event.SampleRate] names its rate when the provider declares one
	// per chunk; otherwise it is the session's output rate.
	EventAudio EventType = iota + 1

	// EventInterruption signals that the caller barged in. Audio that was
	// already queued for playback must be discarded.
	EventInterruption

	// EventAgentResponse carries the final text of an agent turn.
	EventAgentResponse

	// EventUserTranscript carries the provider's transcription of a caller turn.
	EventUserTranscript
)

// String returns a lower-case name for the event type.
func (t EventType) String() string {
	switch t {
	case EventAudio:
		return "audio"
	case EventInterruption:
		return "interruption"
	case EventAgentResponse:
		return "agent_response"
	case EventUserTranscript:
		return "user_transcript"
	default:
		return "unknown"
	}
}

// Event is a single item on a session's event stream.
type Event struct {
	Type EventType

	// Audio is set for EventAudio.
	Audio []byte

	// SampleRate is the rate of Audio. Zero means the output rate reported
	// by SessionHandle.Formats.
	SampleRate int

	// Text is set for EventAgentResponse and EventUserTranscript.
	Text string
}

// SessionConfig holds the parameters for opening a session. Zero values leave
// the provider's own (or the remote agent's) defaults in place.
type SessionConfig struct {
	// Instructions is the system prompt for the session.
	Instructions string

	// FirstMessage is spoken by the agent as soon as the session opens.
	FirstMessage string

	// Voice selects the agent voice.
	Voice tts.VoiceProfile

	// InputSampleRate is the rate of the PCM passed to SendAudio. Providers
	// that negotiate formats themselves report the effective value through
	// SessionHandle.Formats.
	InputSampleRate int

	// OutputSampleRate is the requested rate of EventAudio payloads.
	OutputSampleRate int
}

// SessionHandle is an open speech-to-speech session.
//
// Implementations must be safe for concurrent use: SendAudio is called from the
// inbound pump while Events is drained by the outbound pump.
type SessionHandle interface {
	// SendAudio delivers a chunk of caller PCM (16-bit little-endian mono at
	// the input rate reported by Formats).
	SendAudio(chunk []byte) error

	// Events returns the provider's event stream. The channel is closed when
	// the session ends; Err then reports why.
	Events() <-chan Event

	// ConversationID returns the provider-assigned conversation identifier, or
	// "" if the provider does not assign one.
	ConversationID() string

	// Formats returns the input and output PCM sample rates in effect.
	Formats() (inRate, outRate int)

	// Err returns the error that terminated the session, or nil after a clean
	// shutdown.
	Err() error

	// Close terminates the session. It is idempotent.
	Close() error
}

// Provider opens speech-to-speech sessions.
type Provider interface {
	// Connect dials the provider and returns a session that is ready to accept
	// audio.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)
}
