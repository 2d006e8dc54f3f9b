package cascade_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/telebridge/internal/engine"
	"github.com/MrWong99/telebridge/internal/engine/cascade"
	"github.com/MrWong99/telebridge/internal/observe"
	"github.com/MrWong99/telebridge/pkg/audio"
	"github.com/MrWong99/telebridge/pkg/provider/llm"
	llmmock "github.com/MrWong99/telebridge/pkg/provider/llm/mock"
	"github.com/MrWong99/telebridge/pkg/provider/stt"
	sttmock "github.com/MrWong99/telebridge/pkg/provider/stt/mock"
	"github.com/MrWong99/telebridge/pkg/provider/tts"
	ttsmock "github.com/MrWong99/telebridge/pkg/provider/tts/mock"
	"github.com/MrWong99/telebridge/pkg/types"
)

// sentenceAudio is 100 ms of 8 kHz speech: exactly five 20 ms μ-law frames.
var sentenceAudio = audio.AudioFrame{Data: make([]byte, 1600), SampleRate: 8000, Channels: 1}

var utterance = audio.Silence(8000, 500*time.Millisecond)

func collect(t *testing.T, resp *engine.Response) [][]byte {
	t.Helper()
	var frames [][]byte
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-resp.Audio:
			if !ok {
				return frames
			}
			frames = append(frames, f)
		case <-timeout:
			t.Fatal("audio channel was not closed")
		}
	}
}

func newEngine(sttP stt.Provider, llmP llm.Provider, ttsP tts.Provider, cfg cascade.Config) *cascade.Engine {
	return cascade.New(sttP, llmP, ttsP, cfg)
}

func TestProcess_FullTurn(t *testing.T) {
	t.Parallel()

	sttP := &sttmock.Provider{Results: []types.Transcript{{Text: "I want to open a tanjerine account"}}}
	llmP := &llmmock.Provider{Replies: []string{"Sure thing. Let me set that up!"}}
	ttsP := &ttsmock.Provider{Frame: sentenceAudio}

	e := newEngine(sttP, llmP, ttsP, cascade.Config{
		SystemPrompt: "You are a bank agent.",
		Voice:        tts.VoiceProfile{ID: "v1"},
		STT:          stt.Config{Language: "en-US"},
		Keywords:     []string{"Tangerine"},
	})
	t.Cleanup(func() { _ = e.Close() })

	resp, err := e.Process(context.Background(), utterance)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if resp.RawUserText != "I want to open a tanjerine account" {
		t.Errorf("RawUserText = %q", resp.RawUserText)
	}
	if resp.UserText != "I want to open a Tangerine account" {
		t.Errorf("UserText = %q", resp.UserText)
	}
	if resp.Text != "Sure thing. Let me set that up!" {
		t.Errorf("Text = %q", resp.Text)
	}

	frames := collect(t, resp)
	if len(frames) != 10 {
		t.Errorf("got %d frames, want 10", len(frames))
	}
	for i, f := range frames {
		if len(f) != 160 {
			t.Errorf("frame %d: %d bytes, want 160", i, len(f))
		}
	}
	if err := resp.Err(); err != nil {
		t.Errorf("stream error: %v", err)
	}

	texts := ttsP.Texts()
	if len(texts) != 2 || texts[0] != "Sure thing." || texts[1] != "Let me set that up!" {
		t.Errorf("synthesised %q", texts)
	}
	if ttsP.Calls[0].Voice.ID != "v1" {
		t.Errorf("voice = %+v", ttsP.Calls[0].Voice)
	}
	if sttP.Calls[0].Cfg.Language != "en-US" {
		t.Errorf("stt config = %+v", sttP.Calls[0].Cfg)
	}

	reqs := llmP.Requests()
	if len(reqs) != 1 {
		t.Fatalf("llm calls = %d", len(reqs))
	}
	if reqs[0].SystemPrompt != "You are a bank agent." {
		t.Errorf("system prompt = %q", reqs[0].SystemPrompt)
	}
	last := reqs[0].Messages[len(reqs[0].Messages)-1]
	if last.Role != types.RoleUser || last.Content != resp.UserText {
		t.Errorf("last request message = %+v", last)
	}

	hist := e.History()
	if len(hist) != 2 || hist[1].Role != types.RoleAssistant {
		t.Errorf("history = %+v", hist)
	}
}

func TestProcess_HistoryCarriesAcrossTurns(t *testing.T) {
	t.Parallel()

	sttP := &sttmock.Provider{Results: []types.Transcript{{Text: "hello"}, {Text: "what rates do you have"}}}
	llmP := &llmmock.Provider{Replies: []string{"Hi there.", "Rates start at two percent."}}
	e := newEngine(sttP, llmP, &ttsmock.Provider{Frame: sentenceAudio}, cascade.Config{})
	t.Cleanup(func() { _ = e.Close() })

	for range 2 {
		resp, err := e.Process(context.Background(), utterance)
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		collect(t, resp)
	}

	reqs := llmP.Requests()
	if len(reqs) != 2 {
		t.Fatalf("llm calls = %d", len(reqs))
	}
	if got := len(reqs[1].Messages); got != 3 {
		t.Errorf("second request carried %d messages, want 3", got)
	}
	if reqs[1].Messages[1].Content != "Hi there." {
		t.Errorf("second request = %+v", reqs[1].Messages)
	}
}

func TestProcess_NoSpeech(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		stt  *sttmock.Provider
	}{
		{"blank transcript", &sttmock.Provider{Default: types.Transcript{Text: "   "}}},
		{"empty audio", &sttmock.Provider{Err: stt.ErrEmptyAudio}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			llmP := &llmmock.Provider{}
			e := newEngine(tc.stt, llmP, &ttsmock.Provider{}, cascade.Config{})
			t.Cleanup(func() { _ = e.Close() })

			_, err := e.Process(context.Background(), utterance)
			if !errors.Is(err, engine.ErrNoSpeech) {
				t.Fatalf("err = %v, want ErrNoSpeech", err)
			}
			if len(llmP.Requests()) != 0 {
				t.Error("llm should not be called without speech")
			}
			if len(e.History()) != 0 {
				t.Errorf("history = %+v", e.History())
			}
		})
	}
}

func TestProcess_ProviderErrors(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")

	t.Run("stt", func(t *testing.T) {
		t.Parallel()
		e := newEngine(&sttmock.Provider{Err: boom}, &llmmock.Provider{}, &ttsmock.Provider{}, cascade.Config{})
		t.Cleanup(func() { _ = e.Close() })
		if _, err := e.Process(context.Background(), utterance); !errors.Is(err, boom) {
			t.Errorf("err = %v", err)
		}
	})

	t.Run("llm", func(t *testing.T) {
		t.Parallel()
		ttsP := &ttsmock.Provider{}
		e := newEngine(&sttmock.Provider{Default: types.Transcript{Text: "hi"}},
			&llmmock.Provider{CompleteErr: boom}, ttsP, cascade.Config{})
		t.Cleanup(func() { _ = e.Close() })
		if _, err := e.Process(context.Background(), utterance); !errors.Is(err, boom) {
			t.Errorf("err = %v", err)
		}
		if len(ttsP.Texts()) != 0 {
			t.Error("tts should not run after an llm failure")
		}
	})

	t.Run("tts first sentence", func(t *testing.T) {
		t.Parallel()
		e := newEngine(&sttmock.Provider{Default: types.Transcript{Text: "hi"}},
			&llmmock.Provider{Replies: []string{"Hello."}}, &ttsmock.Provider{SynthesizeErr: boom}, cascade.Config{})
		t.Cleanup(func() { _ = e.Close() })
		if _, err := e.Process(context.Background(), utterance); !errors.Is(err, boom) {
			t.Errorf("err = %v", err)
		}
	})
}

// flakyTTS succeeds once and fails afterwards.
type flakyTTS struct {
	mu    sync.Mutex
	calls int
}

func (f *flakyTTS) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (audio.AudioFrame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls > 1 {
		return audio.AudioFrame{}, errors.New("tts dropped")
	}
	return sentenceAudio, nil
}

// requests sums telebridge.provider.requests points matching every attr.
func requests(t *testing.T, reader *sdkmetric.ManualReader, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "telebridge.provider.requests" {
				continue
			}
		points:
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				for _, want := range attrs {
					if v, ok := dp.Attributes.Value(want.Key); !ok || v.AsString() != want.Value.AsString() {
						continue points
					}
				}
				total += dp.Value
			}
		}
	}
	return total
}

func TestProcess_ProviderRequestMetrics(t *testing.T) {
	t.Parallel()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	e := cascade.New(
		&sttmock.Provider{Default: types.Transcript{Text: "hi"}},
		&llmmock.Provider{CompleteErr: errors.New("rate limited")},
		&ttsmock.Provider{},
		cascade.Config{Providers: cascade.ProviderNames{STT: "deepgram", LLM: "openai"}},
		cascade.WithMetrics(m),
	)
	t.Cleanup(func() { _ = e.Close() })
	if _, err := e.Process(context.Background(), utterance); err == nil {
		t.Fatal("expected llm error")
	}

	if n := requests(t, reader, attribute.String("provider", "deepgram"), attribute.String("status", "ok")); n != 1 {
		t.Errorf("deepgram ok requests = %d, want 1", n)
	}
	if n := requests(t, reader, attribute.String("provider", "openai"), attribute.String("status", "error")); n != 1 {
		t.Errorf("openai error requests = %d, want 1", n)
	}
	if n := requests(t, reader, attribute.String("kind", "tts")); n != 0 {
		t.Errorf("tts requests = %d, want 0", n)
	}
}

func TestProcess_LaterSentenceFailureSetsStreamErr(t *testing.T) {
	t.Parallel()

	e := newEngine(&sttmock.Provider{Default: types.Transcript{Text: "hi"}},
		&llmmock.Provider{Replies: []string{"First one. Second one."}}, &flakyTTS{}, cascade.Config{})
	t.Cleanup(func() { _ = e.Close() })

	resp, err := e.Process(context.Background(), utterance)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if frames := collect(t, resp); len(frames) != 5 {
		t.Errorf("got %d frames, want the first sentence only", len(frames))
	}
	if err := resp.Err(); err == nil || !strings.Contains(err.Error(), "tts dropped") {
		t.Errorf("stream err = %v", err)
	}
}

func TestGreet(t *testing.T) {
	t.Parallel()

	ttsP := &ttsmock.Provider{Frame: sentenceAudio}
	e := newEngine(&sttmock.Provider{}, &llmmock.Provider{}, ttsP, cascade.Config{
		WelcomeMessage: "Thanks for calling. How can I help?",
	})
	t.Cleanup(func() { _ = e.Close() })

	resp, err := e.Greet(context.Background())
	if err != nil {
		t.Fatalf("Greet: %v", err)
	}
	if frames := collect(t, resp); len(frames) != 10 {
		t.Errorf("got %d frames, want 10", len(frames))
	}
	hist := e.History()
	if len(hist) != 1 || hist[0].Role != types.RoleAssistant || hist[0].Content != resp.Text {
		t.Errorf("history = %+v", hist)
	}
}

func TestGreet_NoWelcomeMessage(t *testing.T) {
	t.Parallel()
	e := newEngine(&sttmock.Provider{}, &llmmock.Provider{}, &ttsmock.Provider{}, cascade.Config{})
	t.Cleanup(func() { _ = e.Close() })

	resp, err := e.Greet(context.Background())
	if err != nil || resp != nil {
		t.Errorf("Greet = %v, %v; want nil, nil", resp, err)
	}
}

func TestClose_StopsUnreadSynthesis(t *testing.T) {
	t.Parallel()

	// Enough sentences to fill the audio buffer without a reader.
	reply := strings.Repeat("More words here. ", 40)
	e := newEngine(&sttmock.Provider{Default: types.Transcript{Text: "go on"}},
		&llmmock.Provider{Replies: []string{reply}}, &ttsmock.Provider{Frame: sentenceAudio}, cascade.Config{})

	resp, err := e.Process(context.Background(), utterance)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = e.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not return")
	}
	for range resp.Audio {
	}

	if _, err := e.Process(context.Background(), utterance); err == nil {
		t.Error("Process after Close should fail")
	}
}
