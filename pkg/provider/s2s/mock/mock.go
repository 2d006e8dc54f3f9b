// Package mock provides test doubles for the s2s package interfaces.
//
// Use Provider to verify Connect calls and hand out a controlled Session.
// Use Session to script the provider's event stream and inspect the audio the
// relay sent.
//
// Example:
//
//	sess := mock.NewSession(16000, 16000)
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.Push(s2s.Event{Type: s2s.EventInterruption})
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/telebridge/pkg/provider/s2s"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	Ctx context.Context
	Cfg s2s.SessionConfig
}

// Provider is a mock implementation of s2s.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect returns
	// a new Session at 16 kHz in both directions.
	Session s2s.SessionHandle

	// Sessions, if non-empty, are returned one per successful Connect before
	// falling back to Session.
	Sessions []s2s.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect. When
	// FailFirst is positive only the first FailFirst calls fail.
	ConnectErr error

	// FailFirst limits ConnectErr to the first FailFirst calls.
	FailFirst int

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil && (p.FailFirst <= 0 || len(p.ConnectCalls) <= p.FailFirst) {
		return nil, p.ConnectErr
	}
	if len(p.Sessions) > 0 {
		sess := p.Sessions[0]
		p.Sessions = p.Sessions[1:]
		return sess, nil
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(16000, 16000), nil
}

// Calls returns a copy of the recorded Connect calls. Thread-safe.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

var _ s2s.Provider = (*Provider)(nil)

// Session is a mock implementation of s2s.SessionHandle.
type Session struct {
	mu sync.Mutex

	events    chan s2s.Event
	closeOnce sync.Once
	closed    bool
	sent      [][]byte

	// InRate and OutRate are returned by Formats.
	InRate, OutRate int

	// ID is returned by ConversationID.
	ID string

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// EndErr is returned by Err once the stream has ended.
	EndErr error

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int
}

// NewSession returns a Session with a buffered event stream.
func NewSession(inRate, outRate int) *Session {
	return &Session{
		events:  make(chan s2s.Event, 256),
		InRate:  inRate,
		OutRate: outRate,
		ID:      "mock-conversation",
	}
}

// Push enqueues events on the stream. It must not be called after End or
// Close.
func (s *Session) Push(events ...s2s.Event) {
	for _, e := range events {
		s.events <- e
	}
}

// End closes the event stream as if the remote side hung up.
func (s *Session) End() {
	s.closeOnce.Do(func() { close(s.events) })
}

// SendAudio records a copy of chunk and returns SendAudioErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s2s.ErrSessionClosed
	}
	if s.SendAudioErr != nil {
		return s.SendAudioErr
	}
	s.sent = append(s.sent, append([]byte(nil), chunk...))
	return nil
}

// Sent returns copies of every chunk passed to SendAudio. Thread-safe.
func (s *Session) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}

// Events returns the scripted event stream.
func (s *Session) Events() <-chan s2s.Event { return s.events }

// ConversationID returns ID.
func (s *Session) ConversationID() string { return s.ID }

// Formats returns InRate and OutRate.
func (s *Session) Formats() (int, int) { return s.InRate, s.OutRate }

// Err returns EndErr.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.EndErr
}

// Close records the call and ends the stream.
func (s *Session) Close() error {
	s.mu.Lock()
	s.CloseCallCount++
	s.closed = true
	s.mu.Unlock()
	s.End()
	return nil
}

// Closes returns how often Close was called. Thread-safe.
func (s *Session) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}

var _ s2s.SessionHandle = (*Session)(nil)
