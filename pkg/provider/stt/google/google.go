// Package google provides an STT provider backed by Google Cloud
// Speech-to-Text (v1 synchronous Recognize).
//
// Credentials come from Application Default Credentials; the API key field of
// the provider config is unused. Utterances are sent as LINEAR16 at their
// native sample rate, so no container is needed.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"

	"github.com/MrWong99/telebridge/pkg/audio"
	"github.com/MrWong99/telebridge/pkg/provider/stt"
	"github.com/MrWong99/telebridge/pkg/types"
)

const defaultLanguage = "en-US"

var _ stt.Provider = (*Provider)(nil)

// recognizeFunc is the subset of *speech.Client used by Provider.
type recognizeFunc func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the default BCP-47 language code. Defaults to "en-US".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithModel selects a recognition model (e.g., "phone_call", "latest_short").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// Provider implements stt.Provider using the Cloud Speech client library.
type Provider struct {
	client    *speech.Client
	recognize recognizeFunc
	language  string
	model     string
}

// New dials the Speech API. Call Close to release the gRPC connection.
func New(ctx context.Context, opts ...Option) (*Provider, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("google stt: create client: %w", err)
	}
	p := newProvider(func(ctx context.Context, req *speechpb.RecognizeRequest) (*speechpb.RecognizeResponse, error) {
		return client.Recognize(ctx, req)
	}, opts...)
	p.client = client
	return p, nil
}

func newProvider(fn recognizeFunc, opts ...Option) *Provider {
	p := &Provider{recognize: fn, language: defaultLanguage}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Close releases the underlying client.
func (p *Provider) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}

// Transcribe sends utterance to Recognize. Keywords become a speech context
// with the highest boost among them.
func (p *Provider) Transcribe(ctx context.Context, utterance audio.AudioFrame, cfg stt.Config) (types.Transcript, error) {
	if len(utterance.Data) == 0 {
		return types.Transcript{}, stt.ErrEmptyAudio
	}
	if utterance.SampleRate <= 0 {
		return types.Transcript{}, errors.New("google stt: utterance sample rate not set")
	}

	req := p.buildRequest(utterance, cfg)
	resp, err := p.recognize(ctx, req)
	if err != nil {
		return types.Transcript{}, fmt.Errorf("google stt: recognize: %w", err)
	}

	t := parseResponse(resp)
	t.Language = req.GetConfig().GetLanguageCode()
	t.Duration = utterance.Duration()
	return t, nil
}

func (p *Provider) buildRequest(utterance audio.AudioFrame, cfg stt.Config) *speechpb.RecognizeRequest {
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	rc := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            int32(utterance.SampleRate),
		AudioChannelCount:          1,
		LanguageCode:               lang,
		Model:                      p.model,
		EnableAutomaticPunctuation: true,
		EnableWordTimeOffsets:      true,
	}
	if len(cfg.Keywords) > 0 {
		sc := &speechpb.SpeechContext{}
		for _, kw := range cfg.Keywords {
			sc.Phrases = append(sc.Phrases, kw.Keyword)
			if b := float32(kw.Boost); b > sc.Boost {
				sc.Boost = b
			}
		}
		rc.SpeechContexts = []*speechpb.SpeechContext{sc}
	}
	return &speechpb.RecognizeRequest{
		Config: rc,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: utterance.Data},
		},
	}
}

// parseResponse joins the best alternative of every result. Confidence is the
// mean of the per-result confidences.
func parseResponse(resp *speechpb.RecognizeResponse) types.Transcript {
	var (
		parts []string
		words []types.WordDetail
		conf  float64
		n     int
	)
	for _, r := range resp.GetResults() {
		alts := r.GetAlternatives()
		if len(alts) == 0 {
			continue
		}
		best := alts[0]
		if s := strings.TrimSpace(best.GetTranscript()); s != "" {
			parts = append(parts, s)
		}
		conf += float64(best.GetConfidence())
		n++
		for _, w := range best.GetWords() {
			words = append(words, types.WordDetail{
				Word:       w.GetWord(),
				Start:      w.GetStartTime().AsDuration(),
				End:        w.GetEndTime().AsDuration(),
				Confidence: float64(w.GetConfidence()),
			})
		}
	}
	t := types.Transcript{Text: strings.Join(parts, " "), Words: words}
	if n > 0 {
		t.Confidence = conf / float64(n)
	}
	return t
}
