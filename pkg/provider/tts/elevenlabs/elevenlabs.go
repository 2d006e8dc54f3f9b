// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs text-to-speech REST API. It implements the tts.Provider interface.
//
// The output format decides the decoding path: "pcm_<rate>" responses are raw
// 16-bit little-endian mono PCM, "mp3_<rate>_<bitrate>" responses are decoded
// with go-mp3 and down-mixed to mono.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MrWong99/telebridge/pkg/audio"
	"github.com/MrWong99/telebridge/pkg/provider/tts"
)

const (
	defaultBaseURL   = "https://api.elevenlabs.io"
	defaultModel     = "eleven_multilingual_v2"
	defaultOutputFmt = "pcm_16000"

	// DefaultVoiceID is the "Rachel" voice.
	DefaultVoiceID = "21m00Tcm4TlvDq8ikWAM"
)

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000",
// "pcm_24000", "mp3_44100_128").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithBaseURL overrides the API base URL (scheme and host).
func WithBaseURL(u string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(u, "/")
	}
}

// WithVoiceSettings overrides stability and similarity boost (both 0–1).
func WithVoiceSettings(stability, similarity float64) Option {
	return func(p *Provider) {
		p.settings.Stability = stability
		p.settings.SimilarityBoost = similarity
	}
}

// Provider implements tts.Provider backed by the ElevenLabs REST API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	baseURL      string
	settings     voiceSettings
	httpClient   *http.Client
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		baseURL:      defaultBaseURL,
		settings: voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			UseSpeakerBoost: true,
		},
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	if _, _, err := parseOutputFormat(p.outputFormat); err != nil {
		return nil, fmt.Errorf("elevenlabs: %w", err)
	}
	return p, nil
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64  `json:"stability"`
	SimilarityBoost float64  `json:"similarity_boost"`
	Style           float64  `json:"style"`
	UseSpeakerBoost bool     `json:"use_speaker_boost"`
	Speed           *float64 `json:"speed,omitempty"`
}

type synthesisRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (audio.AudioFrame, error) {
	if strings.TrimSpace(text) == "" {
		return audio.AudioFrame{}, tts.ErrEmptyText
	}
	voiceID := voice.ID
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}

	vs := p.settings
	if voice.SpeedFactor > 0 {
		s := voice.SpeedFactor
		vs.Speed = &s
	}
	body, err := json.Marshal(synthesisRequest{Text: text, ModelID: p.model, VoiceSettings: vs})
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	endpoint := p.baseURL + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "?output_format=" + url.QueryEscape(p.outputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("elevenlabs: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("elevenlabs: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return audio.AudioFrame{}, fmt.Errorf("elevenlabs: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	return p.decode(data)
}

// decode turns the response body into a mono PCM frame according to the
// configured output format.
func (p *Provider) decode(data []byte) (audio.AudioFrame, error) {
	codec, rate, _ := parseOutputFormat(p.outputFormat)
	switch codec {
	case "pcm":
		if len(data)%2 != 0 {
			data = data[:len(data)-1]
		}
		return audio.AudioFrame{Data: data, SampleRate: rate, Channels: 1}, nil
	default:
		frame, err := audio.DecodeMP3(bytes.NewReader(data))
		if err != nil {
			return audio.AudioFrame{}, fmt.Errorf("elevenlabs: %w", err)
		}
		return frame, nil
	}
}

// parseOutputFormat splits "pcm_16000" or "mp3_44100_128" into codec and
// sample rate.
func parseOutputFormat(f string) (string, int, error) {
	parts := strings.Split(f, "_")
	if len(parts) < 2 {
		return "", 0, fmt.Errorf("invalid output format %q", f)
	}
	rate, err := strconv.Atoi(parts[1])
	if err != nil || rate <= 0 {
		return "", 0, fmt.Errorf("invalid sample rate in output format %q", f)
	}
	switch parts[0] {
	case "pcm", "mp3":
		return parts[0], rate, nil
	default:
		return "", 0, fmt.Errorf("unsupported output codec %q (want pcm or mp3)", parts[0])
	}
}
