// Package elevenlabs provides an STT provider backed by the ElevenLabs Scribe
// speech-to-text REST API.
//
// Each utterance is uploaded as a WAV file in a multipart form together with
// the model identifier.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/MrWong99/telebridge/pkg/audio"
	"github.com/MrWong99/telebridge/pkg/provider/stt"
	"github.com/MrWong99/telebridge/pkg/types"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModel   = "scribe_v2"
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Scribe model identifier. Defaults to "scribe_v2".
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the API base URL (scheme and host).
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements stt.Provider using ElevenLabs Scribe.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs stt: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type scribeResponse struct {
	LanguageCode        string  `json:"language_code"`
	LanguageProbability float64 `json:"language_probability"`
	Text                string  `json:"text"`
	Words               []struct {
		Text    string  `json:"text"`
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
		Type    string  `json:"type"`
		Logprob float64 `json:"logprob"`
	} `json:"words"`
}

// Transcribe uploads utterance to /v1/speech-to-text. Keywords are ignored.
func (p *Provider) Transcribe(ctx context.Context, utterance audio.AudioFrame, cfg stt.Config) (types.Transcript, error) {
	if len(utterance.Data) == 0 {
		return types.Transcript{}, stt.ErrEmptyAudio
	}

	body, contentType, err := p.form(utterance, cfg)
	if err != nil {
		return types.Transcript{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/speech-to-text", body)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("elevenlabs stt: create request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("elevenlabs stt: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("elevenlabs stt: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return types.Transcript{}, fmt.Errorf("elevenlabs stt: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var sr scribeResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		return types.Transcript{}, fmt.Errorf("elevenlabs stt: parse JSON response: %w", err)
	}

	words := make([]types.WordDetail, 0, len(sr.Words))
	for _, w := range sr.Words {
		if w.Type != "" && w.Type != "word" {
			continue
		}
		words = append(words, types.WordDetail{
			Word:  w.Text,
			Start: time.Duration(w.Start * float64(time.Second)),
			End:   time.Duration(w.End * float64(time.Second)),
		})
	}

	return types.Transcript{
		Text:       strings.TrimSpace(sr.Text),
		Language:   sr.LanguageCode,
		Confidence: sr.LanguageProbability,
		Words:      words,
		Duration:   utterance.Duration(),
	}, nil
}

// form builds the multipart request body.
func (p *Provider) form(utterance audio.AudioFrame, cfg stt.Config) (io.Reader, string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField("model_id", p.model); err != nil {
		return nil, "", fmt.Errorf("elevenlabs stt: write model field: %w", err)
	}
	if cfg.Language != "" {
		if err := mw.WriteField("language_code", cfg.Language); err != nil {
			return nil, "", fmt.Errorf("elevenlabs stt: write language field: %w", err)
		}
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="utterance.wav"`)
	h.Set("Content-Type", "audio/wav")
	fw, err := mw.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("elevenlabs stt: create form file: %w", err)
	}
	if _, err := fw.Write(audio.EncodeWAV(utterance)); err != nil {
		return nil, "", fmt.Errorf("elevenlabs stt: write wav data: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("elevenlabs stt: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}
