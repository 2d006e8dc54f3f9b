package vad

import (
	"fmt"
	"time"

	"github.com/MrWong99/telebridge/pkg/audio"
)

// Detector is the endpointing state machine of one call.
//
//	IDLE ──speech──▶ SPEECH_PENDING ──min speech──▶ SPEAKING
//	  ▲                   │silence                   │silence  ▲speech
//	  └───────────────────┘                          ▼         │
//	                                          SPEECH_PENDING_END ──min silence──▶ ENDED
//
// Time is the audio clock: the sum of the durations of all chunks processed,
// so debouncing depends only on the audio and never on scheduling delays.
// [VADSpeechEnd] is reported exactly once; the detector then ignores chunks
// until [Detector.Reset] acknowledges the end.
type Detector struct {
	cls    Classifier
	cfg    Config
	method string

	state State
	clock time.Duration // audio processed since creation

	speechStart  time.Duration // start of the first speech chunk of the utterance
	lastSpeech   time.Duration // end of the most recent speech chunk
	silenceStart time.Duration // start of the current pause; valid in SPEECH_PENDING_END
	lastProb     float64
}

// NewDetector wraps cls in a state machine configured by cfg.
func NewDetector(cls Classifier, cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{cls: cls, cfg: cfg}, nil
}

// NewSession creates a classifier from e and wraps it in a [Detector].
func NewSession(e Engine, cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cls, err := e.NewClassifier(cfg)
	if err != nil {
		return nil, fmt.Errorf("vad: new %s classifier: %w", e.Name(), err)
	}
	d, _ := NewDetector(cls, cfg)
	d.method = e.Name()
	return d, nil
}

// FrameSamples is the chunk length ProcessChunk requires, or 0 for any.
func (d *Detector) FrameSamples() int { return d.cls.FrameSamples() }

// Config returns the detector's configuration.
func (d *Detector) Config() Config { return d.cfg }

// ProcessChunk classifies one chunk and advances the state machine. The chunk
// must be mono PCM at the configured sample rate and, if the classifier
// requires it, exactly [Detector.FrameSamples] long.
func (d *Detector) ProcessChunk(chunk audio.AudioFrame) (VADEvent, error) {
	if chunk.SampleRate != d.cfg.SampleRate {
		return VADEvent{}, fmt.Errorf("vad: chunk at %d Hz, detector expects %d Hz", chunk.SampleRate, d.cfg.SampleRate)
	}
	if n := d.cls.FrameSamples(); n > 0 && chunk.SampleCount() != n {
		return VADEvent{}, fmt.Errorf("%w: got %d samples, need %d", ErrFrameSize, chunk.SampleCount(), n)
	}
	prob, err := d.cls.Probability(chunk.Data)
	if err != nil {
		return VADEvent{}, fmt.Errorf("vad: classify: %w", err)
	}
	return d.Observe(prob, chunk.Duration()), nil
}

// Observe advances the state machine with a probability for dur of audio.
// ProcessChunk calls it after classification; it is exported so callers with
// their own scoring can drive the state machine directly.
func (d *Detector) Observe(prob float64, dur time.Duration) VADEvent {
	d.lastProb = prob
	start := d.clock
	d.clock += dur
	end := d.clock
	speech := prob >= d.cfg.Threshold

	ev := VADEvent{Probability: prob}
	switch d.state {
	case StateIdle:
		if !speech {
			ev.Type = VADSilence
			break
		}
		d.speechStart = start
		d.lastSpeech = end
		d.state = StateSpeechPending
		ev.Type = d.confirm(end)

	case StateSpeechPending:
		if !speech {
			d.clearTimers()
			d.state = StateIdle
			ev.Type = VADSilence
			break
		}
		d.lastSpeech = end
		ev.Type = d.confirm(end)

	case StateSpeaking:
		ev.Type = VADSpeechContinue
		if speech {
			d.lastSpeech = end
			break
		}
		d.silenceStart = start
		d.state = StateSpeechPendingEnd
		ev.Type = d.expire(end)

	case StateSpeechPendingEnd:
		if speech {
			d.silenceStart = 0
			d.lastSpeech = end
			d.state = StateSpeaking
			ev.Type = VADSpeechContinue
			break
		}
		ev.Type = d.expire(end)

	case StateEnded:
		ev.Type = VADSilence
	}
	return ev
}

// confirm promotes a pending utterance once it has lasted MinSpeechDuration.
func (d *Detector) confirm(now time.Duration) VADEventType {
	if now-d.speechStart >= d.cfg.MinSpeechDuration {
		d.state = StateSpeaking
		return VADSpeechStart
	}
	return VADSpeechPending
}

// expire ends the utterance once the pause has lasted MinSilenceDuration.
func (d *Detector) expire(now time.Duration) VADEventType {
	if now-d.silenceStart >= d.cfg.MinSilenceDuration {
		d.state = StateEnded
		return VADSpeechEnd
	}
	return VADSpeechContinue
}

// IsSpeechStarted reports whether speech has been confirmed since the last
// reset. It stays true through pauses and after the end.
func (d *Detector) IsSpeechStarted() bool {
	return d.state >= StateSpeaking
}

// IsSpeechEnded reports whether the utterance has ended. It stays true until
// [Detector.Reset].
func (d *Detector) IsSpeechEnded() bool {
	return d.state == StateEnded
}

// State returns the current state.
func (d *Detector) State() State { return d.state }

// SpeechStartTime returns the audio time at which the current utterance's
// first speech chunk began. ok is false while idle.
func (d *Detector) SpeechStartTime() (t time.Duration, ok bool) {
	if d.state == StateIdle {
		return 0, false
	}
	return d.speechStart, true
}

// Reset returns the detector to IDLE and clears all timers. The classifier's
// adaptive history is kept; use [Classifier.ResetHistory] for that.
func (d *Detector) Reset() {
	d.state = StateIdle
	d.clearTimers()
}

func (d *Detector) clearTimers() {
	d.speechStart = 0
	d.lastSpeech = 0
	d.silenceStart = 0
}

// Info returns a debugging snapshot.
func (d *Detector) Info() Info {
	info := Info{
		Method:          d.method,
		Threshold:       d.cfg.Threshold,
		State:           d.state,
		SpeechStarted:   d.IsSpeechStarted(),
		LastProbability: d.lastProb,
	}
	if d.state != StateIdle {
		info.SpeechDuration = d.clock - d.speechStart
	}
	if d.state == StateSpeechPendingEnd || d.state == StateEnded {
		info.SilenceDuration = d.clock - d.silenceStart
	}
	if tr, ok := d.cls.(ThresholdReporter); ok {
		info.EnergyThreshold = tr.CurrentThreshold()
	}
	return info
}

// Close releases the classifier.
func (d *Detector) Close() error {
	return d.cls.Close()
}
