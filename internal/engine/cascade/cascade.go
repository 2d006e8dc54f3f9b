// Package cascade implements the cascaded voice engine: speech-to-text, then
// a language model, then text-to-speech.
//
// # Turn flow
//
//  1. The caller's utterance is transcribed by the STT provider. Blank
//     transcripts end the turn with [engine.ErrNoSpeech].
//  2. Misheard product and company names are corrected against the
//     configured keywords.
//  3. The corrected text is appended to the call's history, which a
//     [session.ContextManager] keeps within its token budget, and the LLM
//     generates the reply.
//  4. The reply is split into sentences. Each sentence is synthesised as soon
//     as the previous one has been framed, so the first words play while
//     later sentences are still being rendered.
//
// Every stage runs under its own timeout so a hung provider costs the caller
// one turn, never the call.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/MrWong99/telebridge/internal/engine"
	"github.com/MrWong99/telebridge/internal/observe"
	"github.com/MrWong99/telebridge/internal/session"
	"github.com/MrWong99/telebridge/internal/transcript"
	"github.com/MrWong99/telebridge/pkg/audio"
	"github.com/MrWong99/telebridge/pkg/provider/llm"
	"github.com/MrWong99/telebridge/pkg/provider/stt"
	"github.com/MrWong99/telebridge/pkg/provider/tts"
	"github.com/MrWong99/telebridge/pkg/types"
)

const (
	defaultTemperature   = 0.7
	defaultMaxTokens     = 300
	defaultStageTimeout  = 15 * time.Second
	defaultHistoryTokens = 4000

	// defaultAudioBuf is the buffer depth of the response audio channel: two
	// seconds of 20 ms frames.
	defaultAudioBuf = 100
)

// Config holds the per-call agent settings.
type Config struct {
	SystemPrompt   string
	WelcomeMessage string
	Temperature    float64
	MaxTokens      int
	Voice          tts.VoiceProfile

	// STT is passed to every Transcribe call.
	STT stt.Config

	// Keywords are the terms misheard words are corrected to.
	Keywords []string

	STTTimeout time.Duration
	LLMTimeout time.Duration
	TTSTimeout time.Duration

	// HistoryTokens is the conversation budget before older turns are
	// summarised. Zero uses 4000; negative disables the budget.
	HistoryTokens int

	// FrameDuration is the outbound frame length. Defaults to 20 ms.
	FrameDuration time.Duration

	// Providers names the configured backends in request metrics.
	Providers ProviderNames
}

// ProviderNames labels the stage backends. Empty names are reported as the
// stage kind.
type ProviderNames struct {
	STT, LLM, TTS string
}

func (c *Config) applyDefaults() {
	if c.Temperature == 0 {
		c.Temperature = defaultTemperature
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = defaultMaxTokens
	}
	for _, d := range []*time.Duration{&c.STTTimeout, &c.LLMTimeout, &c.TTSTimeout} {
		if *d <= 0 {
			*d = defaultStageTimeout
		}
	}
	if c.HistoryTokens == 0 {
		c.HistoryTokens = defaultHistoryTokens
	}
	if c.FrameDuration <= 0 {
		c.FrameDuration = audio.DefaultChunkDuration
	}
}

// Option is a functional option for configuring an Engine during construction.
type Option func(*Engine)

// WithCorrector replaces the default [transcript.KeywordCorrector].
func WithCorrector(c transcript.Corrector) Option {
	return func(e *Engine) { e.corrector = c }
}

// WithSummariser compresses old turns instead of dropping them when the
// history budget is exceeded.
func WithSummariser(s session.Summariser) Option {
	return func(e *Engine) { e.summariser = s }
}

// WithMetrics records stage latencies on m instead of the default metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine implements [engine.VoiceEngine] for one call.
//
// Engine is safe for concurrent use, though turns are expected one at a time.
type Engine struct {
	sttP stt.Provider
	llmP llm.Provider
	ttsP tts.Provider
	cfg  Config

	corrector  transcript.Corrector
	summariser session.Summariser
	metrics    *observe.Metrics
	history    *session.ContextManager

	mu     sync.Mutex
	done   chan struct{}
	closed bool

	// wg tracks synthesis goroutines so Close can wait for them.
	wg sync.WaitGroup
}

// Compile-time assertion that Engine satisfies the engine.VoiceEngine interface.
var _ engine.VoiceEngine = (*Engine)(nil)

// New constructs a cascade Engine backed by the given providers.
func New(sttP stt.Provider, llmP llm.Provider, ttsP tts.Provider, cfg Config, opts ...Option) *Engine {
	cfg.applyDefaults()
	e := &Engine{
		sttP:      sttP,
		llmP:      llmP,
		ttsP:      ttsP,
		cfg:       cfg,
		corrector: transcript.NewCorrector(),
		done:      make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	e.history = session.NewContextManager(session.ContextManagerConfig{
		MaxTokens:  max(cfg.HistoryTokens, 0),
		Summariser: e.summariser,
	})
	return e
}

// Greet implements [engine.VoiceEngine].
func (e *Engine) Greet(ctx context.Context) (*engine.Response, error) {
	text := strings.TrimSpace(e.cfg.WelcomeMessage)
	if text == "" {
		return nil, nil
	}
	if err := e.history.AddMessages(ctx, types.Message{Role: types.RoleAssistant, Content: text}); err != nil {
		observe.Logger(ctx).Warn("cascade: history update failed", "err", err)
	}
	return e.speak(ctx, &engine.Response{Text: text})
}

// Process implements [engine.VoiceEngine].
func (e *Engine) Process(ctx context.Context, utterance audio.AudioFrame) (*engine.Response, error) {
	if e.isClosed() {
		return nil, errors.New("cascade: engine is closed")
	}
	ctx, span := observe.StartSpan(ctx, "cascade.process")
	defer span.End()

	tr, err := e.transcribe(ctx, utterance)
	if err != nil {
		return nil, err
	}
	raw := strings.TrimSpace(tr.Text)
	if raw == "" {
		return nil, engine.ErrNoSpeech
	}

	userText := raw
	if len(e.cfg.Keywords) > 0 && e.corrector != nil {
		if res, err := e.corrector.Correct(ctx, tr, e.cfg.Keywords); err != nil {
			observe.Logger(ctx).Warn("cascade: keyword correction failed, using raw transcript", "err", err)
		} else if res != nil && res.Corrected != "" {
			userText = res.Corrected
			if len(res.Corrections) > 0 {
				observe.Logger(ctx).Debug("cascade: corrected transcript",
					"raw", raw, "corrected", userText, "corrections", len(res.Corrections))
			}
		}
	}
	span.SetAttributes(attribute.Int("user_text.len", len(userText)))

	if err := e.history.AddMessages(ctx, types.Message{Role: types.RoleUser, Content: userText}); err != nil {
		observe.Logger(ctx).Warn("cascade: history update failed", "err", err)
	}

	reply, err := e.complete(ctx)
	if err != nil {
		return nil, err
	}
	if err := e.history.AddMessages(ctx, types.Message{Role: types.RoleAssistant, Content: reply}); err != nil {
		observe.Logger(ctx).Warn("cascade: history update failed", "err", err)
	}

	return e.speak(ctx, &engine.Response{UserText: userText, RawUserText: raw, Text: reply})
}

// History implements [engine.VoiceEngine].
func (e *Engine) History() []types.Message {
	return e.history.Messages()
}

// Close implements [engine.VoiceEngine]. It stops in-flight synthesis and
// waits for it to finish.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	close(e.done)
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}

// Wait blocks until all synthesis goroutines have finished. Useful in tests.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *Engine) transcribe(ctx context.Context, utterance audio.AudioFrame) (types.Transcript, error) {
	sctx, cancel := context.WithTimeout(ctx, e.cfg.STTTimeout)
	defer cancel()

	start := time.Now()
	tr, err := e.sttP.Transcribe(sctx, utterance, e.cfg.STT)
	e.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
	e.recordRequest(ctx, "stt", e.cfg.Providers.STT, err)
	if errors.Is(err, stt.ErrEmptyAudio) {
		return types.Transcript{}, engine.ErrNoSpeech
	}
	if err != nil {
		return types.Transcript{}, fmt.Errorf("cascade: transcribe: %w", err)
	}
	return tr, nil
}

func (e *Engine) complete(ctx context.Context) (string, error) {
	lctx, cancel := context.WithTimeout(ctx, e.cfg.LLMTimeout)
	defer cancel()

	start := time.Now()
	resp, err := e.llmP.Complete(lctx, llm.CompletionRequest{
		SystemPrompt: e.cfg.SystemPrompt,
		Messages:     e.history.Messages(),
		Temperature:  e.cfg.Temperature,
		MaxTokens:    e.cfg.MaxTokens,
	})
	e.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	e.recordRequest(ctx, "llm", e.cfg.Providers.LLM, err)
	if err != nil {
		return "", fmt.Errorf("cascade: complete: %w", err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", errors.New("cascade: empty reply from llm")
	}
	return strings.TrimSpace(resp.Content), nil
}

// speak starts synthesis of resp.Text and returns resp with its Audio set.
// The first sentence is synthesised before speak returns so an unreachable
// TTS provider fails the turn instead of producing a silent response.
func (e *Engine) speak(ctx context.Context, resp *engine.Response) (*engine.Response, error) {
	sentences := splitSentences(resp.Text)
	first, err := e.synthesize(ctx, sentences[0])
	if err != nil {
		return nil, err
	}

	out := make(chan []byte, defaultAudioBuf)
	resp.Audio = out

	// Synthesis outlives the turn's context; it is bounded by the engine
	// lifetime and the per-sentence TTS timeout.
	sctx := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(out)

		if !e.emit(out, first) {
			return
		}
		for _, s := range sentences[1:] {
			frames, err := e.synthesize(sctx, s)
			if err != nil {
				resp.SetStreamErr(err)
				return
			}
			if !e.emit(out, frames) {
				return
			}
		}
	}()
	return resp, nil
}

// recordRequest counts one stage request. An utterance without speech is
// not a provider failure.
func (e *Engine) recordRequest(ctx context.Context, kind, name string, err error) {
	if name == "" {
		name = kind
	}
	status := "ok"
	if err != nil && !errors.Is(err, stt.ErrEmptyAudio) {
		status = "error"
		e.metrics.RecordProviderError(ctx, name, kind)
	}
	e.metrics.RecordProviderRequest(ctx, name, kind, status)
}

// synthesize renders one sentence into transport frames.
func (e *Engine) synthesize(ctx context.Context, text string) ([][]byte, error) {
	tctx, cancel := context.WithTimeout(ctx, e.cfg.TTSTimeout)
	defer cancel()

	start := time.Now()
	pcm, err := e.ttsP.Synthesize(tctx, text, e.cfg.Voice)
	e.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
	e.recordRequest(ctx, "tts", e.cfg.Providers.TTS, err)
	if err != nil {
		return nil, fmt.Errorf("cascade: synthesize: %w", err)
	}
	enc := audio.PCMToMulaw(audio.Mono(pcm), audio.TelephonyRate)
	var frames [][]byte
	for f := range audio.ChunkEncoded(enc, e.cfg.FrameDuration) {
		frames = append(frames, f.Data)
	}
	return frames, nil
}

// emit forwards frames to out. It reports false when the engine closed.
func (e *Engine) emit(out chan<- []byte, frames [][]byte) bool {
	for _, f := range frames {
		select {
		case out <- f:
		case <-e.done:
			return false
		}
	}
	return true
}

// splitSentences splits text at sentence boundaries. It always returns at
// least one element.
func splitSentences(text string) []string {
	var out []string
	rest := strings.TrimSpace(text)
	for {
		idx := firstSentenceBoundary(rest)
		if idx < 0 {
			break
		}
		out = append(out, rest[:idx+1])
		rest = strings.TrimLeft(rest[idx+1:], " \t\n\r")
	}
	if rest != "" || len(out) == 0 {
		out = append(out, rest)
	}
	return out
}

// firstSentenceBoundary returns the index of the first '.', '!', or '?'
// character that is immediately followed by a whitespace character (' ', '\n',
// '\r', or '\t'). Returns -1 if no such boundary exists in s.
func firstSentenceBoundary(s string) int {
	for i := 0; i < len(s)-1; i++ {
		switch s[i] {
		case '.', '!', '?':
			switch s[i+1] {
			case ' ', '\n', '\r', '\t':
				return i
			}
		}
	}
	return -1
}
