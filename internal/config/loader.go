package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "openrouter", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"elevenlabs", "deepgram", "whisper", "google"},
	"tts": {"elevenlabs", "coqui"},
	"s2s": {"elevenlabs", "openai-realtime"},
}

// Default values applied by [ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultMediaPath      = "/media-stream"
	DefaultRelayPath      = "/convai-stream"
	DefaultTelephonyRate  = 8000
	DefaultAIRate         = 16000
	DefaultChunkMS        = 20
	DefaultVADThreshold   = 0.5
	DefaultMinSpeechMS    = 250
	DefaultMinSilenceMS   = 700
	DefaultTemperature    = 0.7
	DefaultMaxTokens      = 300
	DefaultHistoryTokens  = 4000
	DefaultStageTimeout   = 15 * time.Second
	DefaultRecordingDir   = "recordings"
	DefaultWelcomeMessage = "Hello! I'm calling on behalf of Tangerine Bank. Do you have a moment to speak?"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands ${VAR} references from
// the environment, applies defaults and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(raw))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills every zero-valued field that has a default.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = DefaultListenAddr
	}
	if s.MediaPath == "" {
		s.MediaPath = DefaultMediaPath
	}
	if s.RelayPath == "" {
		s.RelayPath = DefaultRelayPath
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}

	a := &cfg.Audio
	if a.TelephonyRate == 0 {
		a.TelephonyRate = DefaultTelephonyRate
	}
	if a.AIRate == 0 {
		a.AIRate = DefaultAIRate
	}
	if a.ChunkMS == 0 {
		a.ChunkMS = DefaultChunkMS
	}

	v := &cfg.VAD
	if v.Method == "" {
		v.Method = VADSilero
	}
	if v.Threshold == 0 {
		v.Threshold = DefaultVADThreshold
	}
	if v.MinSpeechMS == 0 {
		v.MinSpeechMS = DefaultMinSpeechMS
	}
	if v.MinSilenceMS == 0 {
		v.MinSilenceMS = DefaultMinSilenceMS
	}

	ag := &cfg.Agent
	if ag.WelcomeMessage == "" {
		ag.WelcomeMessage = DefaultWelcomeMessage
	}
	if ag.Temperature == 0 {
		ag.Temperature = DefaultTemperature
	}
	if ag.MaxTokens == 0 {
		ag.MaxTokens = DefaultMaxTokens
	}
	if ag.HistoryTokens == 0 {
		ag.HistoryTokens = DefaultHistoryTokens
	}
	if ag.Language == "" {
		ag.Language = "en-US"
	}
	for _, d := range []*time.Duration{&ag.STTTimeout, &ag.LLMTimeout, &ag.TTSTimeout} {
		if *d == 0 {
			*d = DefaultStageTimeout
		}
	}

	rec := &cfg.Recording
	if rec.Dir == "" {
		rec.Dir = DefaultRecordingDir
	}
	if rec.Format == "" {
		rec.Format = RecordingWAV
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	for name, p := range map[string]string{"server.media_path": cfg.Server.MediaPath, "server.relay_path": cfg.Server.RelayPath} {
		if p != "" && !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("%s %q must start with /", name, p))
		}
	}
	if cfg.Server.MediaPath != "" && cfg.Server.MediaPath == cfg.Server.RelayPath {
		errs = append(errs, fmt.Errorf("server.media_path and server.relay_path must differ, both are %q", cfg.Server.MediaPath))
	}
	if cfg.Server.MaxCalls < 0 {
		errs = append(errs, fmt.Errorf("server.max_calls must not be negative, got %d", cfg.Server.MaxCalls))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Audio
	if cfg.Audio.TelephonyRate < 0 {
		errs = append(errs, fmt.Errorf("audio.telephony_rate must be positive, got %d", cfg.Audio.TelephonyRate))
	}
	if cfg.Audio.AIRate < 0 {
		errs = append(errs, fmt.Errorf("audio.ai_rate must be positive, got %d", cfg.Audio.AIRate))
	}
	if cfg.Audio.ChunkMS < 0 || cfg.Audio.ChunkMS > 1000 {
		errs = append(errs, fmt.Errorf("audio.chunk_ms %d is out of range [1, 1000]", cfg.Audio.ChunkMS))
	}

	// VAD
	if cfg.VAD.Method != "" && !cfg.VAD.Method.IsValid() {
		errs = append(errs, fmt.Errorf("vad.method %q is invalid; valid values: silero, webrtc, energy", cfg.VAD.Method))
	}
	if cfg.VAD.Threshold < 0 || cfg.VAD.Threshold > 1 {
		errs = append(errs, fmt.Errorf("vad.threshold %.2f is out of range [0, 1]", cfg.VAD.Threshold))
	}
	if cfg.VAD.MinSpeechMS < 0 {
		errs = append(errs, fmt.Errorf("vad.min_speech_ms must not be negative, got %d", cfg.VAD.MinSpeechMS))
	}
	if cfg.VAD.MinSilenceMS < 0 {
		errs = append(errs, fmt.Errorf("vad.min_silence_ms must not be negative, got %d", cfg.VAD.MinSilenceMS))
	}
	if m := cfg.VAD.WebRTCMode; m != nil && (*m < 0 || *m > 3) {
		errs = append(errs, fmt.Errorf("vad.webrtc_mode %d is out of range [0, 3]", *m))
	}
	if cfg.VAD.Method == VADSilero && cfg.VAD.ModelPath == "" {
		slog.Warn("vad.method is silero but vad.model_path is empty; the energy detector will be used")
	}

	// Provider name validation, warn for unknown provider names.
	validateProviderName("llm", cfg.Providers.LLM.Name)
	validateProviderName("stt", cfg.Providers.STT.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("s2s", cfg.Providers.S2S.Name)
	for kind, entries := range map[string][]ProviderEntry{
		"llm": cfg.Providers.LLMFallbacks,
		"stt": cfg.Providers.STTFallbacks,
		"tts": cfg.Providers.TTSFallbacks,
		"s2s": cfg.Providers.S2SFallbacks,
	} {
		for i, e := range entries {
			if e.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s_fallbacks[%d].name is required", kind, i))
				continue
			}
			validateProviderName(kind, e.Name)
		}
	}

	// Mode ↔ provider cross-validation
	cascaded := cfg.Providers.STT.Name != "" || cfg.Providers.LLM.Name != "" || cfg.Providers.TTS.Name != ""
	if cascaded {
		for kind, name := range map[string]string{"stt": cfg.Providers.STT.Name, "llm": cfg.Providers.LLM.Name, "tts": cfg.Providers.TTS.Name} {
			if name == "" {
				errs = append(errs, fmt.Errorf("providers.%s is required by the cascaded bridge", kind))
			}
		}
	}
	if !cascaded && cfg.Providers.S2S.Name == "" {
		errs = append(errs, errors.New("no providers configured; set providers.stt, llm and tts for the cascaded bridge or providers.s2s for the relay"))
	}

	// Agent
	if cfg.Agent.Temperature < 0 || cfg.Agent.Temperature > 2 {
		errs = append(errs, fmt.Errorf("agent.temperature %.2f is out of range [0, 2]", cfg.Agent.Temperature))
	}
	if cfg.Agent.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("agent.max_tokens must not be negative, got %d", cfg.Agent.MaxTokens))
	}
	for name, d := range map[string]time.Duration{"stt_timeout": cfg.Agent.STTTimeout, "llm_timeout": cfg.Agent.LLMTimeout, "tts_timeout": cfg.Agent.TTSTimeout} {
		if d < 0 {
			errs = append(errs, fmt.Errorf("agent.%s must not be negative, got %v", name, d))
		}
	}

	// Recording
	if cfg.Recording.Format != "" && !cfg.Recording.Format.IsValid() {
		errs = append(errs, fmt.Errorf("recording.format %q is invalid; valid values: wav, mp3", cfg.Recording.Format))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
