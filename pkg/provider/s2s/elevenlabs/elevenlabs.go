// Package elevenlabs connects calls to an ElevenLabs Conversational AI agent.
//
// The agent runs on the ElevenLabs side. The bridge streams caller PCM as
// user_audio_chunk messages and gets agent audio, transcripts and
// interruption signals back. Every conversation opens with a
// conversation_initiation_metadata event naming the negotiated formats;
// Connect waits for it. Pings are answered with a pong carrying the same
// event_id and never reach the caller.
package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
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

// defaultRate applies until the metadata names another format.
const defaultRate = 16000

// Option configures a [Provider].
type Option func(*Provider)

// WithBaseURL points the provider at another conversation endpoint.
func WithBaseURL(u string) Option { return func(p *Provider) { p.endpoint = u } }

// WithOverrides makes Connect send conversation_initiation_client_data
// replacing the agent's prompt, first message and voice with the session
// config. The agent must allow overrides or the server refuses the call.
func WithOverrides(enabled bool) Option { return func(p *Provider) { p.overrides = enabled } }

// Provider opens conversations with one agent.
type Provider struct {
	apiKey    string
	agentID   string
	endpoint  string
	overrides bool
}

// New returns a Provider for agentID. apiKey may be empty for public agents.
func New(apiKey, agentID string, opts ...Option) (*Provider, error) {
	if agentID == "" {
		return nil, errors.New("elevenlabs: agent id is required")
	}
	p := &Provider{
		apiKey:   apiKey,
		agentID:  agentID,
		endpoint: "wss://api.elevenlabs.io/v1/convai/conversation",
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type initiation struct {
	Type     string    `json:"type"`
	Override *override `json:"conversation_config_override,omitempty"`
}

type override struct {
	Agent *agentOverride `json:"agent,omitempty"`
	TTS   *voiceOverride `json:"tts,omitempty"`
}

type agentOverride struct {
	Prompt       *promptOverride `json:"prompt,omitempty"`
	FirstMessage string          `json:"first_message,omitempty"`
}

type promptOverride struct {
	Prompt string `json:"prompt"`
}

type voiceOverride struct {
	VoiceID string `json:"voice_id"`
}

func initiationFor(cfg s2s.SessionConfig) initiation {
	var ov override
	if cfg.Instructions != "" || cfg.FirstMessage != "" {
		ov.Agent = &agentOverride{FirstMessage: cfg.FirstMessage}
		if cfg.Instructions != "" {
			ov.Agent.Prompt = &promptOverride{Prompt: cfg.Instructions}
		}
	}
	if cfg.Voice.ID != "" {
		ov.TTS = &voiceOverride{VoiceID: cfg.Voice.ID}
	}
	msg := initiation{Type: "conversation_initiation_client_data"}
	if ov.Agent != nil || ov.TTS != nil {
		msg.Override = &ov
	}
	return msg
}

// serverEvent is the envelope of every agent message; the payload sits in
// the field named after the type.
type serverEvent struct {
	Type string `json:"type"`

	Metadata *struct {
		ConversationID string `json:"conversation_id"`
		AgentOutput    string `json:"agent_output_audio_format"`
		UserInput      string `json:"user_input_audio_format"`
	} `json:"conversation_initiation_metadata_event"`
	Audio *struct {
		Base64     string `json:"audio_base_64"`
		SampleRate int    `json:"sample_rate"`
	} `json:"audio_event"`
	Ping *struct {
		EventID int64 `json:"event_id"`
	} `json:"ping_event"`
	AgentResponse *struct {
		Text string `json:"agent_response"`
	} `json:"agent_response_event"`
	UserTranscript *struct {
		Text string `json:"user_transcript"`
	} `json:"user_transcription_event"`
}

// Connect dials the agent, sends the overrides when enabled and waits for
// the initiation metadata. ctx bounds the handshake.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	header := http.Header{}
	if p.apiKey != "" {
		header.Set("xi-api-key", p.apiKey)
	}
	conn, _, err := websocket.Dial(ctx, p.endpoint+"?agent_id="+url.QueryEscape(p.agentID), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs convai: dial: %w", err)
	}
	s := &session{Session: wssession.New("elevenlabs convai", conn), inRate: defaultRate, outRate: defaultRate}

	if p.overrides {
		if err := s.WriteJSON(ctx, initiationFor(cfg)); err != nil {
			s.Abort("handshake failed")
			return nil, fmt.Errorf("elevenlabs convai: send initiation data: %w", err)
		}
	}
	if err := s.handshake(ctx); err != nil {
		s.Abort("handshake failed")
		return nil, fmt.Errorf("elevenlabs convai: await initiation metadata: %w", err)
	}

	s.Serve(s.handle)
	return s, nil
}

type session struct {
	*wssession.Session

	// Set during the handshake, read-only afterwards.
	conversationID  string
	inRate, outRate int
}

// handshake reads until the initiation metadata, answering pings meanwhile.
func (s *session) handshake(ctx context.Context) error {
	for {
		data, err := s.Read(ctx)
		if err != nil {
			return err
		}
		var e serverEvent
		if json.Unmarshal(data, &e) != nil {
			continue
		}
		switch e.Type {
		case "ping":
			s.pong(ctx, &e)
		case "conversation_initiation_metadata":
			if m := e.Metadata; m != nil {
				s.conversationID = m.ConversationID
				s.inRate = pcmRate(m.UserInput)
				s.outRate = pcmRate(m.AgentOutput)
			}
			return nil
		}
	}
}

// pcmRate reads the rate out of a "pcm_<rate>" format name.
func pcmRate(format string) int {
	if rest, ok := strings.CutPrefix(format, "pcm_"); ok {
		if r, err := strconv.Atoi(rest); err == nil && r > 0 {
			return r
		}
	}
	if format != "" {
		slog.Warn("elevenlabs convai: unsupported audio format, assuming pcm", "format", format, "rate", defaultRate)
	}
	return defaultRate
}

func (s *session) pong(ctx context.Context, e *serverEvent) {
	if e.Ping == nil {
		return
	}
	if err := s.WriteJSON(ctx, map[string]any{"type": "pong", "event_id": e.Ping.EventID}); err != nil {
		s.Debug("pong failed", "event_id", e.Ping.EventID, "err", err)
	}
}

func (s *session) handle(data []byte) {
	var e serverEvent
	if err := json.Unmarshal(data, &e); err != nil {
		s.Debug("undecodable event", "err", err)
		return
	}
	switch e.Type {
	case "ping":
		s.pong(context.Background(), &e)
	case "audio":
		if e.Audio == nil {
			return
		}
		rate := e.Audio.SampleRate
		if rate <= 0 {
			rate = s.outRate
		}
		pcm, err := audio.DecodePCMFromTransport(e.Audio.Base64, rate)
		if err != nil {
			s.Debug("dropping audio event", "err", err)
			return
		}
		s.Emit(s2s.Event{Type: s2s.EventAudio, Audio: pcm.Data, SampleRate: pcm.SampleRate})
	case "interruption":
		s.Emit(s2s.Event{Type: s2s.EventInterruption})
	case "agent_response":
		if e.AgentResponse != nil && e.AgentResponse.Text != "" {
			s.Emit(s2s.Event{Type: s2s.EventAgentResponse, Text: e.AgentResponse.Text})
		}
	case "user_transcript":
		if e.UserTranscript != nil && e.UserTranscript.Text != "" {
			s.Emit(s2s.Event{Type: s2s.EventUserTranscript, Text: e.UserTranscript.Text})
		}
	}
}

func (s *session) SendAudio(chunk []byte) error {
	return s.Send(map[string]string{
		"user_audio_chunk": audio.EncodePCMForTransport(audio.AudioFrame{Data: chunk, SampleRate: s.inRate, Channels: 1}),
	})
}

func (s *session) ConversationID() string { return s.conversationID }

func (s *session) Formats() (int, int) { return s.inRate, s.outRate }
