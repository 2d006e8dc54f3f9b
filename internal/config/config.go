// Package config provides the configuration schema, loader, and provider registry
// for the telebridge telephony audio bridge.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/telebridge/pkg/provider/vad"
)

// LogLevel controls log verbosity for the telebridge server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// SlogLevel converts l to the matching [slog.Level]. Unknown values map to info.
func (l LogLevel) SlogLevel() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// VADMethod selects the voice activity detection strategy.
type VADMethod string

const (
	// VADSilero uses the Silero neural model through ONNX Runtime.
	VADSilero VADMethod = "silero"

	// VADWebRTC uses the rule-based WebRTC detector.
	VADWebRTC VADMethod = "webrtc"

	// VADEnergy uses the dependency-free RMS energy gate.
	VADEnergy VADMethod = "energy"
)

// IsValid reports whether m is a recognised VAD method.
func (m VADMethod) IsValid() bool {
	switch m {
	case VADSilero, VADWebRTC, VADEnergy:
		return true
	}
	return false
}

// RecordingFormat is the container written by the session recorder.
type RecordingFormat string

const (
	RecordingWAV RecordingFormat = "wav"
	RecordingMP3 RecordingFormat = "mp3"
)

// IsValid reports whether f is a recognised recording format.
func (f RecordingFormat) IsValid() bool {
	return f == RecordingWAV || f == RecordingMP3
}

// Config is the root configuration structure for telebridge.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Audio       AudioConfig       `yaml:"audio"`
	VAD         VADConfig         `yaml:"vad"`
	Providers   ProvidersConfig   `yaml:"providers"`
	Agent       AgentConfig       `yaml:"agent"`
	Recording   RecordingConfig   `yaml:"recording"`
	Transcripts TranscriptsConfig `yaml:"transcripts"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// PublicURL is the externally reachable base URL Twilio uses to reach this
	// server. When empty, the Host header of the webhook request is used.
	PublicURL string `yaml:"public_url"`

	// MediaPath is the WebSocket path of the cascaded bridge.
	MediaPath string `yaml:"media_path"`

	// RelayPath is the WebSocket path of the conversational-AI relay.
	RelayPath string `yaml:"relay_path"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MaxCalls caps concurrent calls. Calls beyond it are refused. Zero means
	// no limit.
	MaxCalls int `yaml:"max_calls"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// AudioConfig holds the sample rates on both sides of the bridge.
type AudioConfig struct {
	// TelephonyRate is the rate of the μ-law stream from the phone network.
	TelephonyRate int `yaml:"telephony_rate"`

	// AIRate is the PCM rate used for VAD and speech recognition.
	AIRate int `yaml:"ai_rate"`

	// ChunkMS is the duration of each outbound media frame in milliseconds.
	ChunkMS int `yaml:"chunk_ms"`
}

// Chunk returns ChunkMS as a duration.
func (a AudioConfig) Chunk() time.Duration {
	return time.Duration(a.ChunkMS) * time.Millisecond
}

// VADConfig selects and tunes the voice activity detector.
type VADConfig struct {
	// Method is the preferred strategy. The energy strategy is substituted
	// when the preferred one cannot be loaded.
	Method VADMethod `yaml:"method"`

	// Threshold is the detection sensitivity in [0, 1].
	Threshold float64 `yaml:"threshold"`

	// MinSpeechMS is the debounce before speech is confirmed.
	MinSpeechMS int `yaml:"min_speech_ms"`

	// MinSilenceMS is the debounce before an utterance ends.
	MinSilenceMS int `yaml:"min_silence_ms"`

	// ModelPath is the Silero ONNX model file.
	ModelPath string `yaml:"model_path"`

	// ONNXLibrary is the path of the ONNX Runtime shared library. Empty uses
	// the platform default.
	ONNXLibrary string `yaml:"onnx_library"`

	// WebRTCMode overrides the WebRTC aggressiveness (0–3). When nil it is
	// derived from Threshold.
	WebRTCMode *int `yaml:"webrtc_mode"`
}

// Detector converts the section into per-call detector parameters at rate.
func (v VADConfig) Detector(rate int) vad.Config {
	return vad.Config{
		SampleRate:         rate,
		Threshold:          v.Threshold,
		MinSpeechDuration:  time.Duration(v.MinSpeechMS) * time.Millisecond,
		MinSilenceDuration: time.Duration(v.MinSilenceMS) * time.Millisecond,
	}
}

// ProvidersConfig declares which provider implementation to use for each
// pipeline stage. Each entry selects a named provider registered in the
// [Registry]; fallback entries are tried in order when the primary fails.
type ProvidersConfig struct {
	LLM          ProviderEntry   `yaml:"llm"`
	LLMFallbacks []ProviderEntry `yaml:"llm_fallbacks"`
	STT          ProviderEntry   `yaml:"stt"`
	STTFallbacks []ProviderEntry `yaml:"stt_fallbacks"`
	TTS          ProviderEntry   `yaml:"tts"`
	TTSFallbacks []ProviderEntry `yaml:"tts_fallbacks"`
	S2S          ProviderEntry   `yaml:"s2s"`
	S2SFallbacks []ProviderEntry `yaml:"s2s_fallbacks"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "deepgram").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o", "nova-2").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// Option returns the string value of the provider option key, or "".
func (e ProviderEntry) Option(key string) string {
	v, ok := e.Options[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// BoolOption returns the boolean value of the provider option key, or false.
func (e ProviderEntry) BoolOption(key string) bool {
	b, _ := e.Options[key].(bool)
	return b
}

// AgentConfig describes the voice agent of the cascaded bridge. The prompt,
// greeting and voice are also passed to conversational-AI sessions.
type AgentConfig struct {
	// SystemPrompt is the LLM system message.
	SystemPrompt string `yaml:"system_prompt"`

	// WelcomeMessage is spoken as soon as a call starts. Empty disables it.
	WelcomeMessage string `yaml:"welcome_message"`

	// Temperature is the LLM sampling temperature.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps each LLM reply.
	MaxTokens int `yaml:"max_tokens"`

	// VoiceID selects the TTS voice.
	VoiceID string `yaml:"voice_id"`

	// Language is the BCP-47 language used for recognition.
	Language string `yaml:"language"`

	// Keywords are domain terms used to correct speech recognition output.
	Keywords []string `yaml:"keywords"`

	// STTTimeout bounds one transcription request.
	STTTimeout time.Duration `yaml:"stt_timeout"`

	// LLMTimeout bounds one completion request.
	LLMTimeout time.Duration `yaml:"llm_timeout"`

	// TTSTimeout bounds one synthesis request.
	TTSTimeout time.Duration `yaml:"tts_timeout"`

	// HistoryTokens is the token budget of the conversation history kept for
	// the LLM. Older turns are summarised once it is exceeded.
	HistoryTokens int `yaml:"history_tokens"`

	// BargeIn stops agent playback as soon as the caller starts speaking.
	BargeIn bool `yaml:"barge_in"`
}

// RecordingConfig controls the session recorder.
type RecordingConfig struct {
	// Enabled turns call recording on.
	Enabled bool `yaml:"enabled"`

	// Dir is where recordings are written.
	Dir string `yaml:"dir"`

	// Format is the final container. mp3 requires ffmpeg; without it the WAV
	// intermediate is kept.
	Format RecordingFormat `yaml:"format"`

	// FFmpegPath is the ffmpeg binary. Empty searches PATH.
	FFmpegPath string `yaml:"ffmpeg_path"`
}

// TranscriptsConfig controls where call transcripts are persisted.
type TranscriptsConfig struct {
	// Dir is the directory of per-call text transcripts. Empty disables them.
	Dir string `yaml:"dir"`

	// PostgresDSN enables the PostgreSQL transcript store when set.
	PostgresDSN string `yaml:"postgres_dsn"`
}
