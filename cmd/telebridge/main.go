// Command telebridge is the entry point of the Twilio voice agent bridge.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/telebridge/internal/app"
	"github.com/MrWong99/telebridge/internal/config"
	"github.com/MrWong99/telebridge/internal/health"
	"github.com/MrWong99/telebridge/internal/observe"
	"github.com/MrWong99/telebridge/internal/resilience"
	"github.com/MrWong99/telebridge/pkg/provider/llm"
	"github.com/MrWong99/telebridge/pkg/provider/llm/anyllm"
	geminillm "github.com/MrWong99/telebridge/pkg/provider/llm/gemini"
	openaillm "github.com/MrWong99/telebridge/pkg/provider/llm/openai"
	"github.com/MrWong99/telebridge/pkg/provider/s2s"
	elevenlabss2s "github.com/MrWong99/telebridge/pkg/provider/s2s/elevenlabs"
	oais2s "github.com/MrWong99/telebridge/pkg/provider/s2s/openai"
	"github.com/MrWong99/telebridge/pkg/provider/stt"
	"github.com/MrWong99/telebridge/pkg/provider/stt/deepgram"
	elevenlabsstt "github.com/MrWong99/telebridge/pkg/provider/stt/elevenlabs"
	googlestt "github.com/MrWong99/telebridge/pkg/provider/stt/google"
	"github.com/MrWong99/telebridge/pkg/provider/stt/whisper"
	"github.com/MrWong99/telebridge/pkg/provider/tts"
	"github.com/MrWong99/telebridge/pkg/provider/tts/coqui"
	elevenlabstts "github.com/MrWong99/telebridge/pkg/provider/tts/elevenlabs"
	"github.com/MrWong99/telebridge/pkg/provider/vad"
	"github.com/MrWong99/telebridge/pkg/provider/vad/energy"
	"github.com/MrWong99/telebridge/pkg/provider/vad/silero"
	"github.com/MrWong99/telebridge/pkg/provider/vad/webrtc"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "telebridge.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "optional dotenv file loaded before the configuration")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "telebridge: load %s: %v\n", *envFile, err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "telebridge: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "telebridge: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level})))

	slog.Info("telebridge starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.Setup(ctx, observe.TelemetryConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		tctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(tctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := telemetry.Metrics

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg)

	providers, checkers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg, providers)

	application, err := app.New(ctx, cfg, providers,
		app.WithCheckers(checkers...),
		app.WithMetrics(metrics),
		app.WithMetricsHandler(telemetry.Handler()),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Hot reload ────────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(next *config.Config, d config.ConfigDiff) {
		if d.LogLevelChanged {
			level.Set(d.NewLogLevel.SlogLevel())
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		application.Reload(next, d)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		go func() {
			for {
				select {
				case <-hup:
					slog.Info("SIGHUP received, reloading config")
					watcher.Reload()
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	// openrouter speaks the OpenAI API and only differs in its base URL.
	for _, name := range []string{"openai", "openrouter"} {
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []openaillm.Option
			baseURL := entry.BaseURL
			if name == "openrouter" {
				if baseURL == "" {
					baseURL = "https://openrouter.ai/api/v1"
				}
				opts = append(opts, openaillm.WithHeader("X-Title", "telebridge"))
			}
			if baseURL != "" {
				opts = append(opts, openaillm.WithBaseURL(baseURL))
			}
			if org := entry.Option("organization"); org != "" {
				opts = append(opts, openaillm.WithOrganization(org))
			}
			return openaillm.New(entry.APIKey, entry.Model, opts...)
		})
	}

	reg.RegisterLLM("gemini", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []geminillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, geminillm.WithBaseURL(entry.BaseURL))
		}
		return geminillm.New(ctx, entry.APIKey, entry.Model, opts...)
	})

	for _, name := range anyllm.Backends() {
		if name == "openai" || name == "gemini" {
			continue // dedicated adapters
		}
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("elevenlabs", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []elevenlabsstt.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabsstt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabsstt.WithBaseURL(entry.BaseURL))
		}
		return elevenlabsstt.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	// google authenticates through Application Default Credentials.
	reg.RegisterSTT("google", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []googlestt.Option
		if entry.Model != "" {
			opts = append(opts, googlestt.WithModel(entry.Model))
		}
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, googlestt.WithLanguage(lang))
		}
		return googlestt.New(ctx, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabstts.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabstts.WithModel(entry.Model))
		}
		if outputFmt := entry.Option("output_format"); outputFmt != "" {
			opts = append(opts, elevenlabstts.WithOutputFormat(outputFmt))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabstts.WithBaseURL(entry.BaseURL))
		}
		return elevenlabstts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := entry.Option("language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := entry.Option("api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	// ── S2S ───────────────────────────────────────────────────────────────────

	reg.RegisterS2S("elevenlabs", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []elevenlabss2s.Option
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabss2s.WithBaseURL(entry.BaseURL))
		}
		if entry.BoolOption("overrides") {
			opts = append(opts, elevenlabss2s.WithOverrides(true))
		}
		return elevenlabss2s.New(entry.APIKey, entry.Option("agent_id"), opts...)
	})

	reg.RegisterS2S("openai-realtime", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []oais2s.Option
		if entry.Model != "" {
			opts = append(opts, oais2s.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oais2s.WithBaseURL(entry.BaseURL))
		}
		return oais2s.New(entry.APIKey, opts...), nil
	})

	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD(string(config.VADSilero), func(vc config.VADConfig) (vad.Engine, error) {
		var opts []silero.Option
		if vc.ONNXLibrary != "" {
			opts = append(opts, silero.WithLibraryPath(vc.ONNXLibrary))
		}
		return silero.New(vc.ModelPath, opts...)
	})

	reg.RegisterVAD(string(config.VADWebRTC), func(vc config.VADConfig) (vad.Engine, error) {
		var opts []webrtc.Option
		if vc.WebRTCMode != nil {
			opts = append(opts, webrtc.WithMode(*vc.WebRTCMode))
		}
		return webrtc.New(opts...)
	})

	reg.RegisterVAD(string(config.VADEnergy), func(config.VADConfig) (vad.Engine, error) {
		return energy.New(), nil
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry.
// Configured fallbacks are chained behind their primary with one circuit
// breaker each, and every chain contributes a readiness check.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, []health.Checker, error) {
	ps := &app.Providers{}
	var checkers []health.Checker
	pc := cfg.Providers
	fbCfg := resilience.FallbackConfig{
		// Leave room for a fallback before the caller gives up on the silence.
		AttemptTimeout: 8 * time.Second,
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, _, to resilience.State) {
				metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	}

	if pc.LLM.Name != "" {
		primary, err := create(reg, "llm", pc.LLM, reg.CreateLLM)
		if err != nil {
			return nil, nil, err
		}
		ps.LLM = primary
		if len(pc.LLMFallbacks) > 0 {
			group := resilience.NewLLMFallback(primary, pc.LLM.Name, fbCfg)
			for _, entry := range pc.LLMFallbacks {
				p, err := create(reg, "llm", entry, reg.CreateLLM)
				if err != nil {
					return nil, nil, err
				}
				group.AddFallback(entry.Name, p)
			}
			ps.LLM = group
			checkers = append(checkers, health.ProviderCheck("llm", group.Status))
		}
	}

	if pc.STT.Name != "" {
		primary, err := create(reg, "stt", pc.STT, reg.CreateSTT)
		if err != nil {
			return nil, nil, err
		}
		ps.STT = primary
		if len(pc.STTFallbacks) > 0 {
			group := resilience.NewSTTFallback(primary, pc.STT.Name, fbCfg)
			for _, entry := range pc.STTFallbacks {
				p, err := create(reg, "stt", entry, reg.CreateSTT)
				if err != nil {
					return nil, nil, err
				}
				group.AddFallback(entry.Name, p)
			}
			ps.STT = group
			checkers = append(checkers, health.ProviderCheck("stt", group.Status))
		}
	}

	if pc.TTS.Name != "" {
		primary, err := create(reg, "tts", pc.TTS, reg.CreateTTS)
		if err != nil {
			return nil, nil, err
		}
		ps.TTS = primary
		if len(pc.TTSFallbacks) > 0 {
			group := resilience.NewTTSFallback(primary, pc.TTS.Name, fbCfg)
			for _, entry := range pc.TTSFallbacks {
				p, err := create(reg, "tts", entry, reg.CreateTTS)
				if err != nil {
					return nil, nil, err
				}
				group.AddFallback(entry.Name, p)
			}
			ps.TTS = group
			checkers = append(checkers, health.ProviderCheck("tts", group.Status))
		}
	}

	if pc.S2S.Name != "" {
		primary, err := create(reg, "s2s", pc.S2S, reg.CreateS2S)
		if err != nil {
			return nil, nil, err
		}
		ps.S2S = primary
		if len(pc.S2SFallbacks) > 0 {
			group := resilience.NewS2SFallback(primary, pc.S2S.Name, fbCfg)
			for _, entry := range pc.S2SFallbacks {
				p, err := create(reg, "s2s", entry, reg.CreateS2S)
				if err != nil {
					return nil, nil, err
				}
				group.AddFallback(entry.Name, p)
			}
			ps.S2S = group
			checkers = append(checkers, health.ProviderCheck("s2s", group.Status))
		}
	}

	// The detector is only needed by the cascaded bridge. A backend that
	// cannot load is replaced by the energy gate once, here.
	if ps.STT != nil {
		preferred := string(cfg.VAD.Method)
		engine, fellBack := vad.OpenWithFallback(preferred,
			func() (vad.Engine, error) { return reg.CreateVAD(cfg.VAD) },
			cfg.VAD.Detector(cfg.Audio.AIRate),
			energy.New(),
		)
		ps.VAD = engine
		slog.Info("vad ready", "method", engine.Name(), "fell_back", fellBack)
	}

	return ps, checkers, nil
}

// create builds one provider and logs it.
func create[P any](reg *config.Registry, kind string, entry config.ProviderEntry, factory func(config.ProviderEntry) (P, error)) (P, error) {
	p, err := factory(entry)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		var zero P
		return zero, fmt.Errorf("%w; known %s providers: %s", err, kind, strings.Join(reg.Names()[kind], ", "))
	}
	if err != nil {
		var zero P
		return zero, fmt.Errorf("create %s provider: %w", kind, err)
	}
	slog.Info("provider created", "kind", kind, "name", entry.Name, "model", entry.Model)
	return p, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, ps *app.Providers) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       telebridge: startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("S2S", cfg.Providers.S2S.Name, cfg.Providers.S2S.Model)
	printProvider("VAD", string(cfg.VAD.Method), "")
	fmt.Printf("║  Cascade         : %-19t ║\n", ps.Cascaded())
	fmt.Printf("║  ConvAI relay    : %-19t ║\n", ps.ConvAI())
	if cfg.Recording.Enabled {
		fmt.Printf("║  Recording       : %-19s ║\n", cfg.Recording.Format)
	} else {
		fmt.Printf("║  Recording       : %-19s ║\n", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}
