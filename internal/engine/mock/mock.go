// Package mock provides an in-memory mock implementation of [engine.VoiceEngine]
// for use in unit tests.
//
// The mock records every method call and builds a fresh [engine.Response] per
// turn from the configured reply, so the single-use audio channel of a
// response is never shared between turns. It is safe for concurrent use.
//
// Example:
//
//	e := &mock.VoiceEngine{
//	    ReplyText:   "How can I help?",
//	    ReplyFrames: [][]byte{make([]byte, 160)},
//	}
//	resp, err := e.Process(ctx, utterance)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/telebridge/internal/engine"
	"github.com/MrWong99/telebridge/pkg/audio"
	"github.com/MrWong99/telebridge/pkg/types"
)

// Compile-time interface assertion.
var _ engine.VoiceEngine = (*VoiceEngine)(nil)

// VoiceEngine is a mock implementation of [engine.VoiceEngine].
type VoiceEngine struct {
	mu sync.Mutex

	// ProcessFunc, if set, replaces the scripted reply of Process.
	ProcessFunc func(ctx context.Context, utterance audio.AudioFrame) (*engine.Response, error)

	// UserText is reported as the caller's words of every turn.
	UserText string

	// ReplyText and ReplyFrames form the response of every Process call.
	ReplyText   string
	ReplyFrames [][]byte

	// ProcessError, if non-nil, is returned by Process.
	ProcessError error

	// GreetText and GreetFrames form the response of Greet. An empty
	// GreetText makes Greet return nil, nil.
	GreetText   string
	GreetFrames [][]byte

	// GreetError, if non-nil, is returned by Greet.
	GreetError error

	// HistoryResult is returned by History.
	HistoryResult []types.Message

	// CloseError is returned by Close.
	CloseError error

	// ProcessCalls records the utterance of every Process call.
	ProcessCalls []audio.AudioFrame

	// GreetCalls counts Greet calls.
	GreetCalls int

	// CloseCalls counts Close calls.
	CloseCalls int
}

// NewResponse returns a response whose audio channel yields frames and is
// already closed.
func NewResponse(userText, text string, frames [][]byte) *engine.Response {
	ch := make(chan []byte, len(frames))
	for _, f := range frames {
		ch <- f
	}
	close(ch)
	return &engine.Response{UserText: userText, RawUserText: userText, Text: text, Audio: ch}
}

// Greet implements [engine.VoiceEngine].
func (v *VoiceEngine) Greet(context.Context) (*engine.Response, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.GreetCalls++
	if v.GreetError != nil {
		return nil, v.GreetError
	}
	if v.GreetText == "" {
		return nil, nil
	}
	return NewResponse("", v.GreetText, v.GreetFrames), nil
}

// Process implements [engine.VoiceEngine].
func (v *VoiceEngine) Process(ctx context.Context, utterance audio.AudioFrame) (*engine.Response, error) {
	v.mu.Lock()
	v.ProcessCalls = append(v.ProcessCalls, utterance)
	fn := v.ProcessFunc
	v.mu.Unlock()

	if fn != nil {
		return fn(ctx, utterance)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.ProcessError != nil {
		return nil, v.ProcessError
	}
	return NewResponse(v.UserText, v.ReplyText, v.ReplyFrames), nil
}

// History implements [engine.VoiceEngine].
func (v *VoiceEngine) History() []types.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.HistoryResult
}

// Close implements [engine.VoiceEngine].
func (v *VoiceEngine) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.CloseCalls++
	return v.CloseError
}

// Utterances returns a copy of every utterance passed to Process. Thread-safe.
func (v *VoiceEngine) Utterances() []audio.AudioFrame {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]audio.AudioFrame(nil), v.ProcessCalls...)
}

// Closes returns how many times Close was called. Thread-safe.
func (v *VoiceEngine) Closes() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.CloseCalls
}
