package vad

import "time"

// VADEvent is the result of feeding one chunk to a [Detector].
type VADEvent struct {
	// Type is the detection result.
	Type VADEventType

	// Probability is the speech probability score (0.0–1.0).
	Probability float64
}

// VADEventType enumerates VAD detection results.
type VADEventType int

const (
	// VADSpeechStart indicates speech has just been confirmed.
	VADSpeechStart VADEventType = iota

	// VADSpeechContinue indicates ongoing speech, including short pauses that
	// have not yet lasted the minimum silence duration.
	VADSpeechContinue

	// VADSpeechEnd indicates the utterance has just ended. It is reported once
	// per utterance.
	VADSpeechEnd

	// VADSilence indicates no speech detected.
	VADSilence

	// VADSpeechPending indicates speech that has not lasted long enough to be
	// confirmed.
	VADSpeechPending
)

// String returns the name of the event type.
func (t VADEventType) String() string {
	switch t {
	case VADSpeechStart:
		return "speech_start"
	case VADSpeechContinue:
		return "speech_continue"
	case VADSpeechEnd:
		return "speech_end"
	case VADSilence:
		return "silence"
	case VADSpeechPending:
		return "speech_pending"
	default:
		return "unknown"
	}
}

// State is a [Detector] state.
type State int

const (
	// StateIdle: no speech since the last reset.
	StateIdle State = iota
	// StateSpeechPending: speech observed but not yet confirmed.
	StateSpeechPending
	// StateSpeaking: speech confirmed.
	StateSpeaking
	// StateSpeechPendingEnd: silence after confirmed speech, waiting out the
	// minimum silence duration.
	StateSpeechPendingEnd
	// StateEnded: utterance complete. Terminal until Reset.
	StateEnded
)

// String returns the name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateSpeechPending:
		return "SPEECH_PENDING"
	case StateSpeaking:
		return "SPEAKING"
	case StateSpeechPendingEnd:
		return "SPEECH_PENDING_END"
	case StateEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// Info is a debugging snapshot of a [Detector].
type Info struct {
	Method          string
	Threshold       float64
	State           State
	SpeechStarted   bool
	LastProbability float64

	// SpeechDuration is the audio time since speech was first observed, or
	// zero while idle.
	SpeechDuration time.Duration

	// SilenceDuration is the audio time since the current pause began, or
	// zero while speech is ongoing.
	SilenceDuration time.Duration

	// EnergyThreshold is the adaptive energy threshold for classifiers that
	// implement [ThresholdReporter]; zero otherwise.
	EnergyThreshold float64
}
