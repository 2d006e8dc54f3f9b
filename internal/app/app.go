// Package app wires all telebridge subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates the shared
// subsystems, Run serves HTTP and the Media Streams sockets, and Shutdown
// waits for calls in progress and tears everything down in order.
//
// Every call gets its own detector, engine, recorder and bridge session;
// only the providers, the transcript sink and the metrics are shared.
//
// For testing, inject mock implementations via functional options
// (WithSink, WithMetrics, etc.). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/telebridge/internal/config"
	"github.com/MrWong99/telebridge/internal/health"
	"github.com/MrWong99/telebridge/internal/observe"
	"github.com/MrWong99/telebridge/internal/session"
	"github.com/MrWong99/telebridge/internal/transcript"
	"github.com/MrWong99/telebridge/pkg/provider/llm"
	providers2s "github.com/MrWong99/telebridge/pkg/provider/s2s"
	"github.com/MrWong99/telebridge/pkg/provider/stt"
	"github.com/MrWong99/telebridge/pkg/provider/tts"
	"github.com/MrWong99/telebridge/pkg/provider/vad"
)

// hangUpGrace is how long hung-up calls get to release their resources
// once the shutdown deadline has passed.
const hangUpGrace = 2 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider
	TTS tts.Provider
	S2S providers2s.Provider
	VAD vad.Engine
}

// Cascaded reports whether the cascaded bridge can serve calls.
func (p *Providers) Cascaded() bool {
	return p.STT != nil && p.LLM != nil && p.TTS != nil && p.VAD != nil
}

// ConvAI reports whether the conversational-AI relay can serve calls.
func (p *Providers) ConvAI() bool {
	return p.S2S != nil
}

// App owns all subsystem lifetimes and serves the telephony bridge.
type App struct {
	cfg       atomic.Pointer[config.Config]
	providers *Providers

	// Subsystems, initialised in New and torn down in Shutdown.
	sink       transcript.Sink
	metrics    *observe.Metrics
	scrape     http.Handler
	calls      *CallManager
	summariser session.Summariser
	checkers   []health.Checker
	handler    http.Handler

	server *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSink injects a transcript sink instead of creating one from config.
func WithSink(s transcript.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithMetrics records metrics on m instead of the default metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on /metrics. Without it the Prometheus
// default registry is exposed.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.scrape = h }
}

// WithCheckers adds readiness checks, typically one per provider fallback
// group.
func WithCheckers(c ...health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, c...) }
}

// WithSummariser injects the summariser used to compress long call
// histories. By default the LLM provider summarises.
func WithSummariser(s session.Summariser) Option {
	return func(a *App) { a.summariser = s }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg and the providers built by main.go. Use Option
// functions to inject test doubles for any subsystem.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || (!providers.Cascaded() && !providers.ConvAI()) {
		return nil, errors.New("app: no bridge can serve calls; configure stt, llm, tts and vad or s2s providers")
	}

	a := &App{providers: providers}
	a.cfg.Store(cfg)
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.summariser == nil && providers.LLM != nil {
		a.summariser = session.NewLLMSummariser(providers.LLM)
	}

	// ── 1. Transcript sinks ──────────────────────────────────────────────
	if err := a.initTranscripts(ctx); err != nil {
		return nil, fmt.Errorf("app: init transcripts: %w", err)
	}

	// ── 2. Call manager ──────────────────────────────────────────────────
	a.calls = NewCallManager(cfg.Server.MaxCalls)
	if cfg.Server.MaxCalls > 0 {
		a.checkers = append(a.checkers, health.Checker{Name: "capacity", Check: a.calls.capacityCheck})
	}

	// ── 3. HTTP routes ───────────────────────────────────────────────────
	a.handler = a.routes()

	return a, nil
}

// initTranscripts sets up the file and PostgreSQL transcript stores unless a
// sink was injected.
func (a *App) initTranscripts(ctx context.Context) error {
	if a.sink != nil {
		return nil
	}
	tc := a.config().Transcripts

	var sinks []transcript.Sink
	if tc.Dir != "" {
		fs, err := transcript.NewFileStore(tc.Dir)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, fs.Close)
		sinks = append(sinks, fs)
		slog.Info("writing transcripts", "dir", tc.Dir)
	}
	if tc.PostgresDSN != "" {
		pg, err := transcript.NewPostgresStore(ctx, tc.PostgresDSN)
		if err != nil {
			a.close()
			return err
		}
		a.closers = append(a.closers, func() error {
			pg.Close()
			return nil
		})
		guard := transcript.NewGuard("postgres", pg)
		a.checkers = append(a.checkers, health.Checker{
			Name: "transcripts",
			Check: func(context.Context) error {
				if guard.IsDegraded() {
					return errors.New(guard.Status())
				}
				return nil
			},
		})
		sinks = append(sinks, guard)
		slog.Info("storing transcripts in postgres")
	}

	if len(sinks) > 0 {
		a.sink = transcript.Multi(sinks...)
	}
	return nil
}

// config returns the current configuration.
func (a *App) config() *config.Config {
	return a.cfg.Load()
}

// Handler returns the HTTP handler serving every route.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Calls returns the call manager.
func (a *App) Calls() *CallManager {
	return a.calls
}

// ─── Reload ──────────────────────────────────────────────────────────────────

// Reload applies a changed configuration. Agent and VAD tuning take effect
// for the next call; sections listed in d.RestartRequired keep their old
// values until the process restarts.
func (a *App) Reload(cfg *config.Config, d config.ConfigDiff) {
	if d.Empty() {
		return
	}
	next := *a.config()
	if d.AgentChanged {
		next.Agent = cfg.Agent
		slog.Info("agent settings reloaded")
	}
	if d.VADChanged {
		next.VAD.Threshold = cfg.VAD.Threshold
		next.VAD.MinSpeechMS = cfg.VAD.MinSpeechMS
		next.VAD.MinSilenceMS = cfg.VAD.MinSilenceMS
		slog.Info("vad tuning reloaded",
			"threshold", cfg.VAD.Threshold,
			"min_speech_ms", cfg.VAD.MinSpeechMS,
			"min_silence_ms", cfg.VAD.MinSilenceMS,
		)
	}
	if d.LogLevelChanged {
		next.Server.LogLevel = d.NewLogLevel
	}
	for _, section := range d.RestartRequired {
		slog.Warn("config section changed, restart to apply", "section", section)
	}
	a.cfg.Store(&next)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address and blocks until ctx is
// cancelled or the listener fails. When ctx is done, Run returns
// context.Canceled (or the underlying cause); call Shutdown afterwards.
func (a *App) Run(ctx context.Context) error {
	cfg := a.config()
	a.server = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if tls := cfg.Server.TLS; tls != nil {
			errCh <- a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			return
		}
		errCh <- a.server.ListenAndServe()
	}()

	slog.Info("app running",
		"listen_addr", cfg.Server.ListenAddr,
		"cascade", a.providers.Cascaded(),
		"convai", a.providers.ConvAI(),
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops accepting calls, lets the calls in progress finish until
// ctx expires, hangs up the rest and runs the closers in order.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "active_calls", a.calls.Count(), "closers", len(a.closers))

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("http shutdown error", "err", err)
			}
		}

		if err := a.calls.Wait(ctx); err != nil {
			slog.Warn("shutdown deadline exceeded, hanging up", "active_calls", a.calls.Count())
			shutdownErr = err
			a.calls.HangUpAll()
			graceCtx, cancel := context.WithTimeout(context.Background(), hangUpGrace)
			_ = a.calls.Wait(graceCtx)
			cancel()
		}

		a.close()
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func (a *App) close() {
	for i, closer := range a.closers {
		if err := closer(); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
