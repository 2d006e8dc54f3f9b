package engine

import "errors"

// ErrNoSpeech is returned by [VoiceEngine.Process] when the utterance
// contained no recognisable words. The turn is skipped without a reply.
var ErrNoSpeech = errors.New("engine: no speech in utterance")
