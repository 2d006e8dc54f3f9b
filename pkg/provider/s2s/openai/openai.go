// Package openai connects calls to the OpenAI Realtime API.
//
// Caller and agent audio travel as base64 pcm16 at 24 kHz. The server's own
// VAD takes turns; its speech_started event surfaces as an interruption so
// the relay can clear playback.
package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/telebridge/pkg/audio"
	"github.com/MrWong99/telebridge/pkg/provider/s2s"
	"github.com/MrWong99/telebridge/pkg/provider/s2s/internal/wssession"
)

var (
	_ s2s.Provider      = (*Provider)(nil)
	_ s2s.SessionHandle = (*session)(nil)
)

// rate is fixed by the pcm16 format.
const rate = 24000

// Option configures a [Provider].
type Option func(*Provider)

// WithModel picks the realtime model. Default gpt-4o-realtime-preview.
func WithModel(model string) Option { return func(p *Provider) { p.model = model } }

// WithBaseURL points the provider at another endpoint, such as a test server.
func WithBaseURL(u string) Option { return func(p *Provider) { p.endpoint = u } }

// Provider opens OpenAI Realtime sessions.
type Provider struct {
	apiKey   string
	model    string
	endpoint string
}

func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:   apiKey,
		model:    "gpt-4o-realtime-preview",
		endpoint: "wss://api.openai.com/v1/realtime",
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// event is the subset of client and server events the bridge uses. Unused
// fields are omitted on the wire.
type event struct {
	Type       string          `json:"type"`
	Session    *sessionConfig  `json:"session,omitempty"`
	Response   *responseConfig `json:"response,omitempty"`
	Audio      string          `json:"audio,omitempty"`
	Delta      string          `json:"delta,omitempty"`
	Transcript string          `json:"transcript,omitempty"`
	Error      *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type sessionConfig struct {
	Voice             string `json:"voice,omitempty"`
	Instructions      string `json:"instructions,omitempty"`
	InputAudioFormat  string `json:"input_audio_format"`
	OutputAudioFormat string `json:"output_audio_format"`
	Transcription     struct {
		Model string `json:"model"`
	} `json:"input_audio_transcription"`
	TurnDetection struct {
		Type string `json:"type"`
	} `json:"turn_detection"`
}

type responseConfig struct {
	Instructions string `json:"instructions,omitempty"`
}

// Connect dials the endpoint and configures the session. A FirstMessage makes
// the model open the conversation with it.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	conn, _, err := websocket.Dial(ctx, p.endpoint+"?model="+url.QueryEscape(p.model), &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": {"Bearer " + p.apiKey},
			"OpenAI-Beta":   {"realtime=v1"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai realtime: dial: %w", err)
	}
	s := &session{Session: wssession.New("openai realtime", conn)}

	sc := &sessionConfig{
		Voice:             cfg.Voice.ID,
		Instructions:      cfg.Instructions,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
	}
	sc.Transcription.Model = "whisper-1"
	sc.TurnDetection.Type = "server_vad"
	setup := []event{{Type: "session.update", Session: sc}}
	if cfg.FirstMessage != "" {
		setup = append(setup, event{Type: "response.create", Response: &responseConfig{
			Instructions: fmt.Sprintf("Greet the caller by saying exactly: %q", cfg.FirstMessage),
		}})
	}
	for _, e := range setup {
		if err := s.WriteJSON(ctx, e); err != nil {
			s.Abort("setup failed")
			return nil, fmt.Errorf("openai realtime: %s: %w", e.Type, err)
		}
	}

	s.Serve(s.handle)
	return s, nil
}

type session struct {
	*wssession.Session

	// reply collects transcript deltas of the current response. Only the
	// reader goroutine touches it.
	reply strings.Builder
}

func (s *session) handle(data []byte) {
	var e event
	if err := json.Unmarshal(data, &e); err != nil {
		s.Debug("undecodable event", "err", err)
		return
	}
	switch e.Type {
	case "response.audio.delta":
		pcm, err := audio.DecodePCMFromTransport(e.Delta, rate)
		if err != nil {
			s.Debug("dropping audio delta", "err", err)
			return
		}
		s.Emit(s2s.Event{Type: s2s.EventAudio, Audio: pcm.Data})

	case "response.audio_transcript.delta":
		s.reply.WriteString(e.Delta)

	case "response.audio_transcript.done":
		text := s.reply.String()
		s.reply.Reset()
		if text == "" {
			text = e.Transcript
		}
		if text != "" {
			s.Emit(s2s.Event{Type: s2s.EventAgentResponse, Text: text})
		}

	case "input_audio_buffer.speech_started":
		s.Emit(s2s.Event{Type: s2s.EventInterruption})

	case "conversation.item.input_audio_transcription.completed":
		if e.Transcript != "" {
			s.Emit(s2s.Event{Type: s2s.EventUserTranscript, Text: e.Transcript})
		}

	case "error":
		if e.Error != nil {
			slog.Warn("openai realtime: server error", "code", e.Error.Code, "err", e.Error.Message)
		}
	}
}

func (s *session) SendAudio(chunk []byte) error {
	return s.Send(event{Type: "input_audio_buffer.append", Audio: audio.EncodePCMForTransport(audio.AudioFrame{Data: chunk, SampleRate: rate, Channels: 1})})
}

// ConversationID is empty; the Realtime API assigns none up front.
func (s *session) ConversationID() string { return "" }

func (s *session) Formats() (int, int) { return rate, rate }
