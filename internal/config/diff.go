package config

import (
	"fmt"
	"slices"
)

// ConfigDiff describes what changed between two configs.
// Only fields that are applied to new calls without a restart are tracked;
// every other change is reported through RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// AgentChanged is set when the prompt, greeting, voice, keywords or
	// sampling parameters changed. Active calls keep their settings.
	AgentChanged bool

	// VADChanged is set when the threshold or debounce durations changed.
	// A different method or model needs a restart.
	VADChanged bool

	// RestartRequired lists the top-level sections whose changes only take
	// effect after a restart.
	RestartRequired []string
}

// Empty reports whether d contains no changes at all.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.AgentChanged && !d.VADChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.AgentChanged = !agentEqual(old.Agent, new.Agent)

	ov, nv := old.VAD, new.VAD
	d.VADChanged = ov.Threshold != nv.Threshold ||
		ov.MinSpeechMS != nv.MinSpeechMS ||
		ov.MinSilenceMS != nv.MinSilenceMS
	if ov.Method != nv.Method || ov.ModelPath != nv.ModelPath || ov.ONNXLibrary != nv.ONNXLibrary || !intPtrEqual(ov.WebRTCMode, nv.WebRTCMode) {
		d.RestartRequired = append(d.RestartRequired, "vad")
	}

	so, sn := old.Server, new.Server
	if so.ListenAddr != sn.ListenAddr || so.PublicURL != sn.PublicURL || so.MediaPath != sn.MediaPath ||
		so.RelayPath != sn.RelayPath || so.MaxCalls != sn.MaxCalls || (so.TLS == nil) != (sn.TLS == nil) || (so.TLS != nil && *so.TLS != *sn.TLS) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Recording != new.Recording {
		d.RestartRequired = append(d.RestartRequired, "recording")
	}
	if old.Transcripts != new.Transcripts {
		d.RestartRequired = append(d.RestartRequired, "transcripts")
	}

	return d
}

func agentEqual(a, b AgentConfig) bool {
	if !slices.Equal(a.Keywords, b.Keywords) {
		return false
	}
	a.Keywords, b.Keywords = nil, nil
	return a.SystemPrompt == b.SystemPrompt &&
		a.WelcomeMessage == b.WelcomeMessage &&
		a.Temperature == b.Temperature &&
		a.MaxTokens == b.MaxTokens &&
		a.VoiceID == b.VoiceID &&
		a.Language == b.Language &&
		a.STTTimeout == b.STTTimeout &&
		a.LLMTimeout == b.LLMTimeout &&
		a.TTSTimeout == b.TTSTimeout &&
		a.HistoryTokens == b.HistoryTokens &&
		a.BargeIn == b.BargeIn
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.LLM, b.LLM) && entriesEqual(a.LLMFallbacks, b.LLMFallbacks) &&
		entryEqual(a.STT, b.STT) && entriesEqual(a.STTFallbacks, b.STTFallbacks) &&
		entryEqual(a.TTS, b.TTS) && entriesEqual(a.TTSFallbacks, b.TTSFallbacks) &&
		entryEqual(a.S2S, b.S2S) && entriesEqual(a.S2SFallbacks, b.S2SFallbacks)
}

func entriesEqual(a, b []ProviderEntry) bool {
	return slices.EqualFunc(a, b, entryEqual)
}

// entryEqual compares the scalar fields of two entries. Option maps are
// compared by their string form only.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		w, ok := b.Options[k]
		if !ok || fmt.Sprint(v) != fmt.Sprint(w) {
			return false
		}
	}
	return true
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
