package bridge

import (
	"log/slog"

	"github.com/MrWong99/telebridge/pkg/audio"
	"github.com/MrWong99/telebridge/pkg/provider/vad"
)

// segmenter cuts the caller's audio into utterances. It resamples telephone
// PCM to the detector rate, splits it into the exact chunk length the
// detector needs and buffers every chunk from the confirmation of speech to
// the end of the utterance.
//
// A segmenter belongs to the inbound pump and is not safe for concurrent use.
type segmenter struct {
	det  Detector
	rs   *audio.Resampler
	rate int
	log  *slog.Logger

	pending []byte // resampled PCM not yet classified
	speech  []byte // utterance audio since speech was confirmed
}

func newSegmenter(det Detector, fromRate, toRate int, log *slog.Logger) *segmenter {
	return &segmenter{
		det:  det,
		rs:   audio.NewResampler(fromRate, toRate),
		rate: toRate,
		log:  log,
	}
}

// push feeds one frame of telephone PCM. It returns the utterances that
// ended within it and whether speech was confirmed.
func (g *segmenter) push(pcm audio.AudioFrame) (utterances []audio.AudioFrame, started bool) {
	g.pending = append(g.pending, g.rs.Process(pcm.Data)...)

	size := g.det.FrameSamples() * 2
	if size == 0 {
		size = len(g.pending)
	}
	for size > 0 && len(g.pending) >= size {
		utt, ev := g.classify(g.pending[:size])
		g.pending = g.pending[size:]
		if ev == vad.VADSpeechStart {
			started = true
		}
		if utt != nil {
			utterances = append(utterances, *utt)
		}
	}
	if len(g.pending) == 0 {
		g.pending = nil
	}
	return utterances, started
}

func (g *segmenter) classify(chunk []byte) (*audio.AudioFrame, vad.VADEventType) {
	ev, err := g.det.ProcessChunk(audio.AudioFrame{Data: chunk, SampleRate: g.rate, Channels: 1})
	if err != nil {
		g.log.Warn("vad: dropping chunk", "err", err)
		return nil, vad.VADSilence
	}
	if ev.Type == vad.VADSpeechStart {
		g.log.Debug("speech started", "probability", ev.Probability)
	}
	if !g.det.IsSpeechStarted() {
		return nil, ev.Type
	}
	g.speech = append(g.speech, chunk...)
	if !g.det.IsSpeechEnded() {
		return nil, ev.Type
	}

	info := g.det.Info()
	utt := audio.AudioFrame{Data: g.speech, SampleRate: g.rate, Channels: 1}
	g.speech = nil
	g.det.Reset()
	g.log.Debug("speech ended",
		"duration", utt.Duration(),
		"silence", info.SilenceDuration,
		"energy_threshold", info.EnergyThreshold,
	)
	return &utt, ev.Type
}
