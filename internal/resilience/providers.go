package resilience

import (
	"context"

	"github.com/MrWong99/telebridge/pkg/audio"
	"github.com/MrWong99/telebridge/pkg/provider/llm"
	"github.com/MrWong99/telebridge/pkg/provider/s2s"
	"github.com/MrWong99/telebridge/pkg/provider/stt"
	"github.com/MrWong99/telebridge/pkg/provider/tts"
	"github.com/MrWong99/telebridge/pkg/types"
)

var (
	_ stt.Provider = (*STTFallback)(nil)
	_ llm.Provider = (*LLMFallback)(nil)
	_ tts.Provider = (*TTSFallback)(nil)
	_ s2s.Provider = (*S2SFallback)(nil)
)

// STTFallback transcribes with the first healthy backend, replaying the same
// utterance against each fallback in turn.
type STTFallback struct{ *FallbackGroup[stt.Provider] }

func NewSTTFallback(primary stt.Provider, name string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{NewFallbackGroup(primary, name, cfg)}
}

func (f *STTFallback) Transcribe(ctx context.Context, utterance audio.AudioFrame, cfg stt.Config) (types.Transcript, error) {
	return Call(ctx, f.FallbackGroup, func(ctx context.Context, p stt.Provider, _ bool) (types.Transcript, error) {
		return p.Transcribe(ctx, utterance, cfg)
	})
}

// LLMFallback asks the first healthy backend for each reply.
type LLMFallback struct{ *FallbackGroup[llm.Provider] }

func NewLLMFallback(primary llm.Provider, name string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{NewFallbackGroup(primary, name, cfg)}
}

func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(ctx, f.FallbackGroup, func(ctx context.Context, p llm.Provider, _ bool) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// CountTokens uses the primary's estimate and never fails over; history
// trimming only needs an approximate budget.
func (f *LLMFallback) CountTokens(messages []types.Message) (int, error) {
	return f.Primary().CountTokens(messages)
}

func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	return f.Primary().Capabilities()
}

// TTSFallback synthesises with the first healthy backend. Voice IDs are
// backend specific, so fallbacks get the voice with its ID cleared and speak
// in their default voice.
type TTSFallback struct{ *FallbackGroup[tts.Provider] }

func NewTTSFallback(primary tts.Provider, name string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{NewFallbackGroup(primary, name, cfg)}
}

func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (audio.AudioFrame, error) {
	return Call(ctx, f.FallbackGroup, func(ctx context.Context, p tts.Provider, primary bool) (audio.AudioFrame, error) {
		if !primary {
			voice.ID = ""
		}
		return p.Synthesize(ctx, text, voice)
	})
}

// S2SFallback fails over when opening a session only. A session that drops
// later ends the relay and is not retried here.
type S2SFallback struct{ *FallbackGroup[s2s.Provider] }

func NewS2SFallback(primary s2s.Provider, name string, cfg FallbackConfig) *S2SFallback {
	return &S2SFallback{NewFallbackGroup(primary, name, cfg)}
}

// Connect binds the session to ctx rather than the attempt context, which
// ends as soon as the attempt returns.
func (f *S2SFallback) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	return Call(ctx, f.FallbackGroup, func(_ context.Context, p s2s.Provider, _ bool) (s2s.SessionHandle, error) {
		return p.Connect(ctx, cfg)
	})
}
