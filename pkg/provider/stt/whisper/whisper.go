// Package whisper transcribes utterances on a self-hosted whisper.cpp server.
//
// Each utterance is converted to 16 kHz mono, the only input whisper-server
// accepts without its --convert flag, wrapped in WAV and posted as
// multipart/form-data to /inference.
//
//	p, err := whisper.New("http://localhost:8080", whisper.WithLanguage("en"))
//	tr, err := p.Transcribe(ctx, utterance, stt.Config{})
package whisper

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/telebridge/pkg/audio"
	"github.com/MrWong99/telebridge/pkg/provider/stt"
	"github.com/MrWong99/telebridge/pkg/types"
)

var _ stt.Provider = (*Provider)(nil)

// inputRate is the sample rate whisper models are trained on.
const inputRate = 16000

// Option configures a [Provider].
type Option func(*Provider)

// WithModel names the model the server should use, e.g. "base.en". Empty
// keeps the model the server was started with.
func WithModel(model string) Option { return func(p *Provider) { p.model = model } }

// WithLanguage sets the default language. Default "en".
func WithLanguage(lang string) Option { return func(p *Provider) { p.language = lang } }

// WithHTTPClient replaces the default client, which times out after 30s.
func WithHTTPClient(c *http.Client) Option { return func(p *Provider) { p.client = c } }

// Provider is a whisper.cpp-backed [stt.Provider].
type Provider struct {
	endpoint string
	model    string
	language string
	client   *http.Client
}

// New returns a Provider for the server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("whisper: server URL is required")
	}
	p := &Provider{
		endpoint: strings.TrimRight(serverURL, "/") + "/inference",
		language: "en",
		client:   &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe uploads utterance. cfg.Language overrides the default language;
// keywords are ignored since whisper.cpp has no boosting.
func (p *Provider) Transcribe(ctx context.Context, utterance audio.AudioFrame, cfg stt.Config) (types.Transcript, error) {
	if len(utterance.Data) == 0 {
		return types.Transcript{}, stt.ErrEmptyAudio
	}
	lang := cmp.Or(cfg.Language, p.language)

	body, contentType, err := p.form(utterance, lang)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: build form: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, body)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := p.client.Do(req)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return types.Transcript{}, fmt.Errorf("whisper: inference: status %d", resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return types.Transcript{}, fmt.Errorf("whisper: decode response: %w", err)
	}
	return types.Transcript{
		Text:     strings.TrimSpace(result.Text),
		Language: lang,
		Duration: utterance.Duration(),
	}, nil
}

func (p *Provider) form(utterance audio.AudioFrame, lang string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(audio.EncodeWAV(audio.Normalize(utterance, inputRate))); err != nil {
		return nil, "", err
	}
	fields := [][2]string{{"response_format", "json"}, {"language", lang}, {"model", p.model}}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
