// Package coqui synthesises speech on a self-hosted Coqui server.
//
// Two server flavours are supported. The standard Coqui TTS server
// (ghcr.io/coqui-ai/tts-cpu) takes GET /api/tts with query parameters; the
// XTTS v2 API server takes POST /tts_to_audio/ with a JSON body. Both answer
// with a WAV file, returned as a mono PCM frame at the server's rate.
//
//	p, err := coqui.New("http://localhost:5002", coqui.WithLanguage("en"))
//	frame, err := p.Synthesize(ctx, "Your balance is twelve dollars.", tts.VoiceProfile{})
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrWong99/telebridge/pkg/audio"
	"github.com/MrWong99/telebridge/pkg/provider/tts"
)

var _ tts.Provider = (*Provider)(nil)

// APIMode selects the server flavour.
type APIMode string

const (
	APIModeStandard APIMode = "standard"
	APIModeXTTS     APIMode = "xtts"
)

// Option configures a [Provider].
type Option func(*Provider)

// WithLanguage sets the language code passed to the server. Default "en".
func WithLanguage(lang string) Option { return func(p *Provider) { p.language = lang } }

// WithTimeout bounds each synthesis request. Default 30s.
func WithTimeout(d time.Duration) Option { return func(p *Provider) { p.client.Timeout = d } }

// WithAPIMode picks the server flavour. Default [APIModeStandard].
func WithAPIMode(mode APIMode) Option { return func(p *Provider) { p.mode = mode } }

// Provider is a Coqui-backed [tts.Provider].
type Provider struct {
	base     string
	language string
	mode     APIMode
	client   *http.Client
}

// New returns a Provider for the server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: server URL is required")
	}
	p := &Provider{
		base:     strings.TrimRight(serverURL, "/"),
		language: "en",
		mode:     APIModeStandard,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	if p.mode != APIModeStandard && p.mode != APIModeXTTS {
		return nil, fmt.Errorf("coqui: unknown API mode %q", p.mode)
	}
	return p, nil
}

// Synthesize renders text. voice.ID is the speaker id on a standard server
// and the reference speaker WAV on an XTTS server.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (audio.AudioFrame, error) {
	if strings.TrimSpace(text) == "" {
		return audio.AudioFrame{}, tts.ErrEmptyText
	}
	req, err := p.request(ctx, text, voice.ID)
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("coqui: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.client.Do(req)
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("coqui: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return audio.AudioFrame{}, fmt.Errorf("coqui: %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("coqui: read response: %w", err)
	}
	frame, err := audio.DecodeWAV(wav)
	if err != nil {
		return audio.AudioFrame{}, fmt.Errorf("coqui: %w", err)
	}
	return audio.Mono(frame), nil
}

func (p *Provider) request(ctx context.Context, text, speaker string) (*http.Request, error) {
	if p.mode == APIModeXTTS {
		body, err := json.Marshal(map[string]string{
			"text":        text,
			"speaker_wav": speaker,
			"language":    p.language,
		})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.base+"/tts_to_audio/", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	}

	q := url.Values{"text": {text}}
	if speaker != "" {
		q.Set("speaker_id", speaker)
	}
	if p.language != "" {
		q.Set("language_id", p.language)
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, p.base+"/api/tts?"+q.Encode(), nil)
}
