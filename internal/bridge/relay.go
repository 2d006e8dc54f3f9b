package bridge

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/telebridge/pkg/audio"
	providers2s "github.com/MrWong99/telebridge/pkg/provider/s2s"
	"github.com/MrWong99/telebridge/pkg/transport/twilio"
	"github.com/MrWong99/telebridge/pkg/types"
)

// drainTimeout bounds how long queued agent audio may keep playing after the
// conversational-AI session has ended.
const drainTimeout = 30 * time.Second

// Relay is the conversational-AI side of a call. [*s2s.Relay] implements it.
type Relay interface {
	// SendAudio forwards caller PCM at the input rate reported by Formats.
	SendAudio(chunk []byte) error

	// Events is closed when the session ends.
	Events() <-chan providers2s.Event

	Formats() (inRate, outRate int)
}

// RunRelay relays the call to r until either side ends or ctx is cancelled.
// The caller keeps ownership of r.
func (s *Session) RunRelay(ctx context.Context, r Relay) error {
	ctx, end := s.begin(ctx, ModeConvAI, false)
	defer end()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return s.relayInbound(gctx, r)
	})
	g.Go(func() error {
		defer cancel()
		s.relayOutbound(gctx, r)
		return nil
	})
	return g.Wait()
}

// ─── Telephone → AI ──────────────────────────────────────────────────────────

func (s *Session) relayInbound(ctx context.Context, r Relay) error {
	var rs *audio.Resampler
	for {
		msg, err := s.t.Next(ctx)
		if err != nil {
			return readErr(ctx, err)
		}
		if msg.Event != twilio.EventMedia {
			if s.control(msg) {
				return nil
			}
			continue
		}

		pcm, ok := s.decode(ctx, msg.Media)
		if !ok {
			continue
		}
		in, _ := r.Formats()
		if in <= 0 {
			in = s.cfg.AIRate
		}
		if _, to := rateOf(rs); to != in {
			rs = audio.NewResampler(pcm.SampleRate, in)
		}
		chunk := rs.Process(pcm.Data)
		if len(chunk) == 0 {
			continue
		}
		if err := r.SendAudio(chunk); err != nil {
			s.log.Debug("relay: send audio failed", "err", err)
		}
	}
}

// ─── AI → telephone ──────────────────────────────────────────────────────────

func (s *Session) relayOutbound(ctx context.Context, r Relay) {
	var (
		rs       *audio.Resampler
		segments int
	)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.Events():
			if !ok {
				s.log.Info("conversational ai session ended")
				s.drain(ctx)
				return
			}
			switch ev.Type {
			case providers2s.EventAudio:
				rate := ev.SampleRate
				if rate <= 0 {
					_, rate = r.Formats()
				}
				if rate <= 0 {
					rate = s.cfg.AIRate
				}
				if from, _ := rateOf(rs); from != rate {
					rs = audio.NewResampler(rate, audio.TelephonyRate)
				}
				frames := s.frame(rs.Process(ev.Audio))
				if len(frames) == 0 {
					continue
				}
				segments++
				s.out.Enqueue(audio.SegmentFromFrames(fmt.Sprintf("audio-%d", segments), frames))

			case providers2s.EventInterruption:
				s.log.Info("caller interrupted the agent")
				if rs != nil {
					rs.Reset()
				}
				s.out.Clear()

			case providers2s.EventAgentResponse:
				s.log.Info("agent replied", "text", ev.Text)
				s.record(ctx, types.SpeakerAgent, ev.Text, "")

			case providers2s.EventUserTranscript:
				s.log.Info("caller said", "text", ev.Text)
				s.record(ctx, types.SpeakerUser, ev.Text, "")
			}
		}
	}
}

// frame encodes 8 kHz PCM as μ-law transport frames.
func (s *Session) frame(pcm []byte) [][]byte {
	if len(pcm) == 0 {
		return nil
	}
	enc := audio.PCMToMulaw(audio.AudioFrame{Data: pcm, SampleRate: audio.TelephonyRate, Channels: 1}, audio.TelephonyRate)
	var frames [][]byte
	for f := range audio.ChunkEncoded(enc, s.cfg.ChunkDuration) {
		frames = append(frames, f.Data)
	}
	return frames
}

// drain lets queued agent audio finish playing.
func (s *Session) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	tick := time.NewTicker(audio.DefaultChunkDuration)
	defer tick.Stop()
	for !s.out.Idle() {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

func rateOf(rs *audio.Resampler) (from, to int) {
	if rs == nil {
		return 0, 0
	}
	return rs.Rates()
}
