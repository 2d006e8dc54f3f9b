package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/telebridge/internal/engine"
	"github.com/MrWong99/telebridge/pkg/audio"
	"github.com/MrWong99/telebridge/pkg/transport/twilio"
	"github.com/MrWong99/telebridge/pkg/types"
)

// RunCascade runs the call through det and eng until the stream stops or
// ctx is cancelled. The caller keeps ownership of eng and det.
//
// Utterances are answered one at a time in arrival order on a dispatcher
// goroutine; the inbound pump keeps reading while a turn is in flight.
func (s *Session) RunCascade(ctx context.Context, eng engine.VoiceEngine, det Detector) error {
	ctx, end := s.begin(ctx, ModeCascade, true)
	defer end()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	seg := newSegmenter(det, audio.TelephonyRate, s.cfg.AIRate, s.log)
	queue := make(chan audio.AudioFrame, s.cfg.QueueDepth)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		defer close(queue)
		return s.cascadeInbound(gctx, seg, queue)
	})
	g.Go(func() error {
		s.dispatch(gctx, eng, queue)
		return nil
	})
	return g.Wait()
}

// ─── Inbound pump ────────────────────────────────────────────────────────────

func (s *Session) cascadeInbound(ctx context.Context, seg *segmenter, queue chan<- audio.AudioFrame) error {
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
		utterances, started := seg.push(pcm)
		if started && s.cfg.BargeIn && s.out.IsPlaying() {
			s.log.Info("caller barged in")
			s.out.Clear()
		}
		for _, u := range utterances {
			select {
			case queue <- u:
			default:
				s.metrics.RecordUtterance(ctx, "dropped")
				s.log.Warn("engine busy, dropping utterance", "duration", u.Duration())
			}
		}
	}
}

// ─── Dispatcher ──────────────────────────────────────────────────────────────

func (s *Session) dispatch(ctx context.Context, eng engine.VoiceEngine, queue <-chan audio.AudioFrame) {
	s.greet(ctx, eng)

	turn := 0
	for {
		select {
		case <-ctx.Done():
			return
		case utt, ok := <-queue:
			if !ok {
				return
			}
			turn++
			s.answer(ctx, eng, utt, turn)
		}
	}
}

func (s *Session) greet(ctx context.Context, eng engine.VoiceEngine) {
	resp, err := eng.Greet(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("welcome message failed", "err", err)
		}
		return
	}
	if resp == nil {
		return
	}
	s.log.Info("agent greeted", "text", resp.Text)
	s.record(ctx, types.SpeakerAgent, resp.Text, "")
	s.play(resp, "greeting")
}

// answer runs one turn. Failures end the turn and leave the call running.
func (s *Session) answer(ctx context.Context, eng engine.VoiceEngine, utt audio.AudioFrame, turn int) {
	log := s.log.With("turn", turn)
	started := time.Now()

	resp, err := eng.Process(ctx, utt)
	switch {
	case errors.Is(err, engine.ErrNoSpeech):
		s.metrics.RecordUtterance(ctx, "empty")
		log.Debug("utterance had no speech", "duration", utt.Duration())
		return
	case err != nil:
		if ctx.Err() != nil {
			return
		}
		s.metrics.RecordUtterance(ctx, "error")
		log.Warn("turn failed", "duration", utt.Duration(), "err", err)
		return
	}

	s.metrics.RecordUtterance(ctx, "answered")
	s.metrics.TurnDuration.Record(ctx, time.Since(started).Seconds())
	log.Info("caller said", "text", resp.UserText)
	log.Info("agent replied", "text", resp.Text, "latency", time.Since(started).Round(time.Millisecond))

	s.record(ctx, types.SpeakerUser, resp.UserText, resp.RawUserText)
	s.record(ctx, types.SpeakerAgent, resp.Text, "")
	s.play(resp, fmt.Sprintf("response-%d", turn))
}

func (s *Session) play(resp *engine.Response, mark string) {
	if resp.Audio == nil {
		return
	}
	s.out.Enqueue(resp.Segment(mark))
}
