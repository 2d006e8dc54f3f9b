// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// pre-recorded REST API. It implements the stt.Provider interface.
package deepgram

import (
	"bytes"
	"cmp"
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
	"github.com/MrWong99/telebridge/pkg/provider/stt"
	"github.com/MrWong99/telebridge/pkg/types"
)

const (
	defaultEndpoint = "https://api.deepgram.com/v1/listen"
	defaultModel    = "nova-3"
	defaultLanguage = "en"
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the REST endpoint. Intended for tests and proxies.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) {
		p.httpClient = c
	}
}

// Provider implements stt.Provider backed by the Deepgram REST API.
type Provider struct {
	apiKey     string
	model      string
	language   string
	endpoint   string
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		language:   defaultLanguage,
		endpoint:   defaultEndpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe posts utterance as audio/wav. cfg.Language and cfg.Keywords are
// sent as query parameters.
func (p *Provider) Transcribe(ctx context.Context, utterance audio.AudioFrame, cfg stt.Config) (types.Transcript, error) {
	if len(utterance.Data) == 0 {
		return types.Transcript{}, stt.ErrEmptyAudio
	}
	endpoint, err := p.buildURL(cfg)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(audio.EncodeWAV(utterance)))
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return types.Transcript{}, fmt.Errorf("deepgram: server returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	t, err := parseResponse(data)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("deepgram: %w", err)
	}
	t.Language = cmp.Or(cfg.Language, p.language)
	t.Duration = utterance.Duration()
	return t, nil
}

// buildURL constructs the Deepgram endpoint URL for the given config.
func (p *Provider) buildURL(cfg stt.Config) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", cmp.Or(cfg.Language, p.language))
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")

	// Keywords are sent as word:boost, e.g. "Tangerine:5".
	for _, kw := range cfg.Keywords {
		q.Add("keywords", fmt.Sprintf("%s:%g", kw.Keyword, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure returned by the pre-recorded API.
type deepgramResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
				Words      []struct {
					Word           string  `json:"word"`
					PunctuatedWord string  `json:"punctuated_word"`
					Start          float64 `json:"start"`
					End            float64 `json:"end"`
					Confidence     float64 `json:"confidence"`
				} `json:"words"`
			} `json:"alternatives"`
			DetectedLanguage string `json:"detected_language"`
		} `json:"channels"`
	} `json:"results"`
}

// parseResponse converts a Deepgram response body into a Transcript. A
// response with no alternatives yields an empty transcript, not an error.
func parseResponse(data []byte) (types.Transcript, error) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return types.Transcript{}, fmt.Errorf("parse JSON response: %w", err)
	}
	if len(resp.Results.Channels) == 0 || len(resp.Results.Channels[0].Alternatives) == 0 {
		return types.Transcript{}, nil
	}

	alt := resp.Results.Channels[0].Alternatives[0]
	words := make([]types.WordDetail, 0, len(alt.Words))
	for _, w := range alt.Words {
		word := w.PunctuatedWord
		if word == "" {
			word = w.Word
		}
		words = append(words, types.WordDetail{
			Word:       word,
			Start:      time.Duration(w.Start * float64(time.Second)),
			End:        time.Duration(w.End * float64(time.Second)),
			Confidence: w.Confidence,
		})
	}

	return types.Transcript{
		Text:       strings.TrimSpace(alt.Transcript),
		Confidence: alt.Confidence,
		Words:      words,
	}, nil
}
