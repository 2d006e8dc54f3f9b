// Package bridge connects a Twilio Media Streams call to a voice agent.
//
// A [Session] is the CallSession of one phone call. It owns two pumps that run
// concurrently and never block each other:
//
//   - The inbound pump reads media events, decodes base64 μ-law, expands it to
//     PCM and hands it to the agent side.
//   - The outbound pump is a [mixer.Player] that paces agent audio out
//     as 20 ms media events and emits a clear event on barge-in.
//
// Two agent sides exist. [Session.RunCascade] feeds the caller's audio to a
// VAD [Detector], cuts it into utterances and answers each one through an
// [engine.VoiceEngine] on a separate dispatcher goroutine, so a slow provider
// never stalls the inbound pump. [Session.RunRelay] streams the caller's audio
// to a conversational-AI [Relay] and plays whatever it sends back.
//
// Per-frame and per-utterance failures are logged and recovered locally. Only
// the end of the stream or a broken socket ends a Run call.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/telebridge/internal/observe"
	"github.com/MrWong99/telebridge/internal/recorder"
	"github.com/MrWong99/telebridge/internal/transcript"
	"github.com/MrWong99/telebridge/pkg/audio"
	"github.com/MrWong99/telebridge/pkg/audio/mixer"
	"github.com/MrWong99/telebridge/pkg/provider/vad"
	"github.com/MrWong99/telebridge/pkg/transport/twilio"
	"github.com/MrWong99/telebridge/pkg/types"
)

// Call modes recorded on transcripts and metrics.
const (
	ModeCascade = "cascade"
	ModeConvAI  = "convai"
)

// Transport is the telephone side of a call. [twilio.Conn] implements it.
type Transport interface {
	// Next returns the next inbound event, or [twilio.ErrStopped] once the
	// stream has ended.
	Next(ctx context.Context) (twilio.Message, error)

	SendMedia(ctx context.Context, enc audio.EncodedFrame) error
	SendClear(ctx context.Context) error
	SendMark(ctx context.Context, name string) error
}

// Detector is the endpointing state machine the inbound pump drives.
// [*vad.Detector] implements it.
type Detector interface {
	ProcessChunk(chunk audio.AudioFrame) (vad.VADEvent, error)

	// FrameSamples is the exact chunk length ProcessChunk accepts, or 0 for
	// any length.
	FrameSamples() int

	IsSpeechStarted() bool
	IsSpeechEnded() bool

	// Reset acknowledges an ended utterance and returns to idle.
	Reset()

	Info() vad.Info
}

// Recorder captures both directions of a call. [*recorder.Recorder]
// implements it.
type Recorder interface {
	Inbound(f audio.AudioFrame)
	Outbound(f audio.AudioFrame)
	Save(ctx context.Context) (string, error)
}

// Config tunes a [Session]. Zero values select the defaults.
type Config struct {
	// AIRate is the PCM rate the detector and the speech recogniser run at.
	// Defaults to 16000.
	AIRate int

	// ChunkDuration is the length of outbound media frames produced from relay
	// audio. Defaults to 20 ms.
	ChunkDuration time.Duration

	// Pacing is the delay after each outbound frame. Defaults to 20 ms;
	// negative disables pacing.
	Pacing time.Duration

	// BargeIn interrupts agent playback as soon as caller speech is confirmed.
	BargeIn bool

	// QueueDepth is the number of utterances that may wait for the engine.
	// Utterances beyond it are dropped. Defaults to 4.
	QueueDepth int
}

func (c *Config) applyDefaults() {
	if c.AIRate <= 0 {
		c.AIRate = 16000
	}
	if c.ChunkDuration <= 0 {
		c.ChunkDuration = audio.DefaultChunkDuration
	}
	switch {
	case c.Pacing == 0:
		c.Pacing = mixer.DefaultPacing
	case c.Pacing < 0:
		c.Pacing = 0
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 4
	}
}

// Option is a functional option for configuring a [Session].
type Option func(*Session)

// WithRecorder records both directions of the call.
func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.rec = r }
}

// WithSink writes the call transcript to sink.
func WithSink(sink transcript.Sink) Option {
	return func(s *Session) { s.sink = sink }
}

// WithMetrics records call metrics on m instead of the default metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// Session is the CallSession of one phone call. A Session runs once.
type Session struct {
	cfg       Config
	t         Transport
	start     *twilio.Start
	callSID   string
	streamSID string

	rec     Recorder
	sink    transcript.Sink
	metrics *observe.Metrics
	log     *slog.Logger

	out *mixer.Player
}

// AwaitStart reads events until the start event and returns it. Media
// arriving before start is ignored. A stream that stops first yields
// [twilio.ErrStopped].
func AwaitStart(ctx context.Context, t Transport) (*twilio.Start, error) {
	for {
		msg, err := t.Next(ctx)
		if err != nil {
			return nil, err
		}
		switch msg.Event {
		case twilio.EventConnected:
			slog.Debug("bridge: media stream connected", "protocol", msg.Protocol, "version", msg.Version)
		case twilio.EventStart:
			if msg.Start == nil || msg.Start.StreamSID == "" {
				return nil, errors.New("bridge: start event without stream sid")
			}
			return msg.Start, nil
		case twilio.EventStop:
			return nil, twilio.ErrStopped
		}
	}
}

// NewSession creates the session of the call described by start.
func NewSession(t Transport, start *twilio.Start, cfg Config, opts ...Option) *Session {
	cfg.applyDefaults()
	s := &Session{
		cfg:       cfg,
		t:         t,
		start:     start,
		callSID:   start.CallSID,
		streamSID: start.StreamSID,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// CallSID returns the Twilio call SID.
func (s *Session) CallSID() string { return s.callSID }

// StreamSID returns the Twilio stream SID.
func (s *Session) StreamSID() string { return s.streamSID }

// begin prepares logging, metrics, the transcript and the outbound pump.
// The returned function releases them.
func (s *Session) begin(ctx context.Context, mode string, marks bool) (context.Context, func()) {
	ctx = observe.WithCall(ctx, s.callSID, s.streamSID)
	s.log = observe.Logger(ctx).With("mode", mode)

	s.metrics.Calls.Add(ctx, 1, observeMode(mode))
	s.metrics.ActiveCalls.Add(ctx, 1)

	format := s.start.MediaFormat
	s.log.Info("call started",
		"encoding", format.Encoding,
		"sample_rate", format.SampleRate,
		"params", len(s.start.CustomParameters),
	)
	if format.Encoding != "" && format.Encoding != twilio.EncodingMulaw {
		s.log.Warn("unexpected media encoding, decoding as μ-law anyway", "encoding", format.Encoding)
	}

	if s.sink != nil {
		if err := s.sink.Begin(ctx, transcript.CallInfo{
			CallSID:   s.callSID,
			StreamSID: s.streamSID,
			Mode:      mode,
			StartedAt: time.Now(),
		}); err != nil {
			s.log.Warn("transcript begin failed", "err", err)
		}
	}

	opts := []mixer.Option{
		mixer.WithPacing(s.cfg.Pacing),
		mixer.WithClearHandler(func() { s.sendClear(ctx) }),
	}
	if marks {
		opts = append(opts, mixer.WithSegmentDone(func(seg *audio.AudioSegment) {
			if err := s.t.SendMark(ctx, seg.ID); err != nil {
				s.log.Debug("send mark failed", "mark", seg.ID, "err", err)
			}
		}))
	}
	s.out = mixer.New(func(frame []byte) { s.sendMedia(ctx, frame) }, opts...)

	started := time.Now()
	return ctx, func() {
		_ = s.out.Close()

		// The call is over; the parent context may already be cancelled.
		fctx := context.WithoutCancel(ctx)
		if s.rec != nil {
			path, err := s.rec.Save(fctx)
			switch {
			case errors.Is(err, recorder.ErrEmpty):
				s.log.Debug("nothing recorded")
			case err != nil:
				s.log.Error("recording failed", "err", err)
			default:
				s.log.Info("recording saved", "path", path)
			}
		}
		if s.sink != nil {
			if err := s.sink.End(fctx, s.callSID); err != nil {
				s.log.Warn("transcript end failed", "err", err)
			}
		}
		s.metrics.ActiveCalls.Add(fctx, -1)
		s.log.Info("call ended", "duration", time.Since(started).Round(time.Millisecond))
	}
}

func (s *Session) sendMedia(ctx context.Context, frame []byte) {
	if err := s.t.SendMedia(ctx, audio.EncodedFrame{Data: frame, StreamID: s.streamSID}); err != nil {
		s.log.Debug("send media failed", "err", err)
		return
	}
	s.metrics.OutboundFrames.Add(ctx, 1)
	if s.rec != nil {
		s.rec.Outbound(audio.MulawToPCM(audio.EncodedFrame{Data: frame}))
	}
}

func (s *Session) sendClear(ctx context.Context) {
	if err := s.t.SendClear(ctx); err != nil {
		s.log.Warn("send clear failed", "err", err)
		return
	}
	s.metrics.ClearsSent.Add(ctx, 1)
}

// record writes one transcript line.
func (s *Session) record(ctx context.Context, speaker, text, raw string) {
	if s.sink == nil || text == "" {
		return
	}
	err := s.sink.Append(ctx, types.TranscriptEntry{
		CallSID:   s.callSID,
		Speaker:   speaker,
		Text:      text,
		RawText:   raw,
		Timestamp: time.Now(),
	})
	if err != nil {
		s.log.Warn("transcript append failed", "speaker", speaker, "err", err)
	}
}

// decode turns one media event into 8 kHz PCM. ok is false when the frame
// must be dropped.
func (s *Session) decode(ctx context.Context, m *twilio.Media) (pcm audio.AudioFrame, ok bool) {
	if m == nil {
		return audio.AudioFrame{}, false
	}
	if m.Track != "" && m.Track != "inbound" {
		return audio.AudioFrame{}, false
	}
	enc, err := audio.DecodeFromTransport(m.Payload)
	if err != nil {
		s.metrics.MalformedFrames.Add(ctx, 1)
		s.log.Warn("dropping malformed media frame", "chunk", m.Chunk, "err", err)
		return audio.AudioFrame{}, false
	}
	s.metrics.InboundFrames.Add(ctx, 1)
	pcm = audio.MulawToPCM(enc)
	if s.rec != nil {
		s.rec.Inbound(pcm)
	}
	return pcm, true
}

// control handles the non-media events common to both modes. It reports
// whether the stream has stopped.
func (s *Session) control(msg twilio.Message) (stopped bool) {
	switch msg.Event {
	case twilio.EventStop:
		s.log.Info("stop event received")
		return true
	case twilio.EventMark:
		if msg.Mark != nil {
			s.log.Debug("playback reached mark", "mark", msg.Mark.Name)
		}
	case twilio.EventDTMF:
		if msg.DTMF != nil {
			s.log.Info("caller pressed key", "digit", msg.DTMF.Digit)
		}
	case twilio.EventStart:
		s.log.Warn("ignoring repeated start event")
	}
	return false
}

// readErr maps the terminal error of the inbound pump to the Run result.
func readErr(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, twilio.ErrStopped):
		return nil
	case ctx.Err() != nil:
		return nil
	}
	return fmt.Errorf("bridge: read: %w", err)
}

func observeMode(mode string) metric.AddOption {
	return metric.WithAttributes(observe.Attr("mode", mode))
}
