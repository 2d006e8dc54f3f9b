// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return a controlled frame to the pipeline and to verify which
// text and VoiceProfile were passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{Frame: audio.Silence(16000, 200*time.Millisecond)}
//	frame, _ := p.Synthesize(ctx, "Hello", tts.VoiceProfile{})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/telebridge/pkg/audio"
	"github.com/MrWong99/telebridge/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Text is the text passed to Synthesize.
	Text string
	// Voice is the VoiceProfile passed to Synthesize.
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Frame is returned by every successful Synthesize call. When its Data is
	// empty, a frame of 10 ms of silence per character at 16 kHz is returned so
	// callers always receive audio.
	Frame audio.AudioFrame

	// SynthesizeErr, if non-nil, is returned from Synthesize.
	SynthesizeErr error

	// Calls records every invocation of Synthesize in order.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns Frame or SynthesizeErr.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (audio.AudioFrame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = append(p.Calls, SynthesizeCall{Text: text, Voice: voice})
	if p.SynthesizeErr != nil {
		return audio.AudioFrame{}, p.SynthesizeErr
	}
	if err := ctx.Err(); err != nil {
		return audio.AudioFrame{}, err
	}
	if len(p.Frame.Data) > 0 {
		return p.Frame, nil
	}
	n := len(text) * 160
	return audio.AudioFrame{Data: make([]byte, n*2), SampleRate: 16000, Channels: 1}, nil
}

// Texts returns the text of every Synthesize call. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Text
	}
	return out
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

var _ tts.Provider = (*Provider)(nil)
