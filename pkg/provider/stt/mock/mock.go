// Package mock provides a test double for the stt.Provider interface.
//
// Provider returns scripted transcripts in order and records every utterance it
// was asked to transcribe.
//
// Example:
//
//	p := &mock.Provider{Results: []types.Transcript{{Text: "hello"}}}
//	tr, _ := p.Transcribe(ctx, utterance, stt.Config{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/telebridge/pkg/audio"
	"github.com/MrWong99/telebridge/pkg/provider/stt"
	"github.com/MrWong99/telebridge/pkg/types"
)

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Utterance is the audio frame that was passed in.
	Utterance audio.AudioFrame
	// Cfg is the Config that was passed in.
	Cfg stt.Config
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Results are returned in order, one per call. Once exhausted, Default is
	// returned.
	Results []types.Transcript

	// Default is returned when Results is exhausted.
	Default types.Transcript

	// Err, if non-nil, is returned from every call.
	Err error

	// Block, if non-nil, makes Transcribe wait until it is closed or ctx is done.
	Block chan struct{}

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the next scripted transcript.
func (p *Provider) Transcribe(ctx context.Context, utterance audio.AudioFrame, cfg stt.Config) (types.Transcript, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, TranscribeCall{Utterance: utterance, Cfg: cfg})
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return types.Transcript{}, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return types.Transcript{}, p.Err
	}
	if len(p.Results) > 0 {
		tr := p.Results[0]
		p.Results = p.Results[1:]
		return tr, nil
	}
	return p.Default, nil
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Utterances returns a copy of every utterance received. Thread-safe.
func (p *Provider) Utterances() []audio.AudioFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]audio.AudioFrame, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Utterance
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

var _ stt.Provider = (*Provider)(nil)
