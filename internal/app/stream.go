package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/MrWong99/telebridge/internal/bridge"
	"github.com/MrWong99/telebridge/internal/config"
	"github.com/MrWong99/telebridge/internal/engine/cascade"
	s2sengine "github.com/MrWong99/telebridge/internal/engine/s2s"
	"github.com/MrWong99/telebridge/internal/observe"
	"github.com/MrWong99/telebridge/internal/recorder"
	"github.com/MrWong99/telebridge/internal/session"
	providers2s "github.com/MrWong99/telebridge/pkg/provider/s2s"
	"github.com/MrWong99/telebridge/pkg/provider/stt"
	"github.com/MrWong99/telebridge/pkg/provider/tts"
	"github.com/MrWong99/telebridge/pkg/provider/vad"
	"github.com/MrWong99/telebridge/pkg/transport/twilio"
	"github.com/MrWong99/telebridge/pkg/types"
)

// keywordBoost is the recogniser boost given to every configured keyword.
const keywordBoost = 2

// handleMediaStream serves one call through the cascaded bridge.
func (a *App) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	if !a.providers.Cascaded() {
		http.Error(w, "cascaded bridge not configured", http.StatusServiceUnavailable)
		return
	}
	a.serveCall(w, r, bridge.ModeCascade, a.runCascade)
}

// handleRelayStream serves one call through the conversational-AI relay.
func (a *App) handleRelayStream(w http.ResponseWriter, r *http.Request) {
	if !a.providers.ConvAI() {
		http.Error(w, "conversational ai relay not configured", http.StatusServiceUnavailable)
		return
	}
	a.serveCall(w, r, bridge.ModeConvAI, a.runRelay)
}

// runFunc runs one call on an open session with the configuration in effect
// when the call started.
type runFunc func(ctx context.Context, sess *bridge.Session, cfg *config.Config) error

// serveCall accepts the socket, waits for the start event, registers the
// call and hands it to run.
func (a *App) serveCall(w http.ResponseWriter, r *http.Request, mode string, run runFunc) {
	conn, err := twilio.Accept(w, r)
	if err != nil {
		slog.Warn("media stream upgrade failed", "mode", mode, "err", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	start, err := bridge.AwaitStart(ctx, conn)
	if err != nil {
		if !errors.Is(err, twilio.ErrStopped) {
			slog.Warn("media stream ended before start", "mode", mode, "err", err)
		}
		return
	}

	ctx, end, err := a.calls.Start(ctx, CallInfo{
		CallSID:   start.CallSID,
		StreamSID: start.StreamSID,
		Mode:      mode,
		From:      start.CustomParameters["from"],
	})
	if err != nil {
		slog.Warn("refusing call", "call_sid", start.CallSID, "err", err)
		return
	}
	defer end()

	cfg := a.config()
	sess := bridge.NewSession(conn, start, bridgeConfig(cfg), a.sessionOptions(cfg, start.CallSID)...)
	if err := run(ctx, sess, cfg); err != nil {
		observe.Logger(observe.WithCall(ctx, start.CallSID, start.StreamSID)).
			Warn("call ended with error", "mode", mode, "err", err)
	}
}

func (a *App) runCascade(ctx context.Context, sess *bridge.Session, cfg *config.Config) error {
	det, err := vad.NewSession(a.providers.VAD, cfg.VAD.Detector(cfg.Audio.AIRate))
	if err != nil {
		return err
	}
	defer det.Close()

	eng := cascade.New(a.providers.STT, a.providers.LLM, a.providers.TTS, agentConfig(cfg),
		cascade.WithSummariser(a.summariser),
		cascade.WithMetrics(a.metrics),
	)
	defer eng.Close()

	return sess.RunCascade(ctx, eng, det)
}

func (a *App) runRelay(ctx context.Context, sess *bridge.Session, cfg *config.Config) error {
	log := slog.With("call_sid", sess.CallSID())
	dialer := session.NewRedialer(session.RedialerConfig{
		Provider: a.providers.S2S,
		Session: providers2s.SessionConfig{
			Instructions:     cfg.Agent.SystemPrompt,
			FirstMessage:     cfg.Agent.WelcomeMessage,
			Voice:            tts.VoiceProfile{ID: cfg.Agent.VoiceID},
			InputSampleRate:  cfg.Audio.AIRate,
			OutputSampleRate: cfg.Audio.AIRate,
		},
		OnAttemptFailed: func(attempt int, err error) {
			log.Warn("conversational ai connect failed", "attempt", attempt, "err", err)
		},
	})

	relay := s2sengine.New(dialer,
		s2sengine.WithMetrics(a.metrics),
		s2sengine.WithOnRedial(func(conversationID string) {
			log.Info("conversational ai session reopened", "conversation_id", conversationID)
		}),
	)
	if err := relay.Start(ctx); err != nil {
		return err
	}
	defer relay.Close()
	log.Info("conversational ai session open", "conversation_id", relay.ConversationID())

	return sess.RunRelay(ctx, relay)
}

// sessionOptions returns the per-call recorder, sink and metrics options.
func (a *App) sessionOptions(cfg *config.Config, callSID string) []bridge.Option {
	opts := []bridge.Option{bridge.WithMetrics(a.metrics)}
	if a.sink != nil {
		opts = append(opts, bridge.WithSink(a.sink))
	}
	if rc := cfg.Recording; rc.Enabled {
		opts = append(opts, bridge.WithRecorder(recorder.New(recorder.Config{
			Dir:        rc.Dir,
			Format:     string(rc.Format),
			FFmpegPath: rc.FFmpegPath,
		}, callSID)))
	}
	return opts
}

func bridgeConfig(cfg *config.Config) bridge.Config {
	return bridge.Config{
		AIRate:        cfg.Audio.AIRate,
		ChunkDuration: cfg.Audio.Chunk(),
		BargeIn:       cfg.Agent.BargeIn,
	}
}

// agentConfig converts the agent section into per-call engine settings.
func agentConfig(cfg *config.Config) cascade.Config {
	ag := cfg.Agent
	boosts := make([]types.KeywordBoost, 0, len(ag.Keywords))
	for _, k := range ag.Keywords {
		boosts = append(boosts, types.KeywordBoost{Keyword: k, Boost: keywordBoost})
	}
	return cascade.Config{
		SystemPrompt:   ag.SystemPrompt,
		WelcomeMessage: ag.WelcomeMessage,
		Temperature:    ag.Temperature,
		MaxTokens:      ag.MaxTokens,
		Voice:          tts.VoiceProfile{ID: ag.VoiceID},
		STT:            stt.Config{Language: ag.Language, Keywords: boosts},
		Keywords:       ag.Keywords,
		STTTimeout:     ag.STTTimeout,
		LLMTimeout:     ag.LLMTimeout,
		TTSTimeout:     ag.TTSTimeout,
		HistoryTokens:  ag.HistoryTokens,
		FrameDuration:  cfg.Audio.Chunk(),
		Providers: cascade.ProviderNames{
			STT: cfg.Providers.STT.Name,
			LLM: cfg.Providers.LLM.Name,
			TTS: cfg.Providers.TTS.Name,
		},
	}
}
