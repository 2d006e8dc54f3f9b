package s2s_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/telebridge/internal/engine/s2s"
	"github.com/MrWong99/telebridge/internal/session"
	providers2s "github.com/MrWong99/telebridge/pkg/provider/s2s"
	s2smock "github.com/MrWong99/telebridge/pkg/provider/s2s/mock"
)

func newRedialer(p providers2s.Provider) *session.Redialer {
	return session.NewRedialer(session.RedialerConfig{
		Provider: p,
		Session:  providers2s.SessionConfig{FirstMessage: "Hello, how can I help?"},
		Backoff:  time.Millisecond,
	})
}

// next receives one event or fails the test.
func next(t *testing.T, r *s2s.Relay) (providers2s.Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-r.Events():
		return ev, ok
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for relay event")
	}
	return providers2s.Event{}, false
}

func TestRelay_ForwardsEventsAndAudio(t *testing.T) {
	t.Parallel()

	sess := s2smock.NewSession(16000, 16000)
	r := s2s.New(newRedialer(&s2smock.Provider{Session: sess}))
	t.Cleanup(func() { _ = r.Close() })

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if in, out := r.Formats(); in != 16000 || out != 16000 {
		t.Errorf("Formats = %d, %d", in, out)
	}
	if r.ConversationID() != "mock-conversation" {
		t.Errorf("ConversationID = %q", r.ConversationID())
	}

	sess.Push(
		providers2s.Event{Type: providers2s.EventAudio, Audio: []byte{1, 2}},
		providers2s.Event{Type: providers2s.EventInterruption},
	)
	if ev, _ := next(t, r); ev.Type != providers2s.EventAudio || len(ev.Audio) != 2 {
		t.Errorf("first event = %+v", ev)
	}
	if ev, _ := next(t, r); ev.Type != providers2s.EventInterruption {
		t.Errorf("second event = %+v", ev)
	}

	if err := r.SendAudio([]byte{9, 9}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if sent := sess.Sent(); len(sent) != 1 || sent[0][0] != 9 {
		t.Errorf("sent = %v", sent)
	}
}

func TestRelay_CleanEndClosesEvents(t *testing.T) {
	t.Parallel()

	sess := s2smock.NewSession(16000, 16000)
	p := &s2smock.Provider{Session: sess}
	r := s2s.New(newRedialer(p))
	t.Cleanup(func() { _ = r.Close() })
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sess.Push(providers2s.Event{Type: providers2s.EventAgentResponse, Text: "Goodbye."})
	sess.End()

	if ev, _ := next(t, r); ev.Text != "Goodbye." {
		t.Errorf("event = %+v", ev)
	}
	if _, ok := next(t, r); ok {
		t.Fatal("events should close after a clean end")
	}
	if r.Err() != nil {
		t.Errorf("Err = %v", r.Err())
	}
	if len(p.Calls()) != 1 {
		t.Errorf("connects = %d, want no redial", len(p.Calls()))
	}
	if err := r.SendAudio([]byte{1}); !errors.Is(err, providers2s.ErrSessionClosed) {
		t.Errorf("SendAudio after end = %v", err)
	}
}

func TestRelay_RedialsDroppedSession(t *testing.T) {
	t.Parallel()

	first := s2smock.NewSession(16000, 16000)
	second := s2smock.NewSession(16000, 16000)
	second.ID = "second"
	p := &s2smock.Provider{Sessions: []providers2s.SessionHandle{first, second}}

	var mu sync.Mutex
	var redialled []string
	r := s2s.New(newRedialer(p), s2s.WithOnRedial(func(id string) {
		mu.Lock()
		redialled = append(redialled, id)
		mu.Unlock()
	}))
	t.Cleanup(func() { _ = r.Close() })
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	first.EndErr = errors.New("connection reset")
	first.End()
	second.Push(providers2s.Event{Type: providers2s.EventAgentResponse, Text: "Sorry, where were we?"})

	ev, ok := next(t, r)
	if !ok || ev.Text != "Sorry, where were we?" {
		t.Fatalf("event after redial = %+v, ok=%v", ev, ok)
	}
	if r.Redials() != 1 || r.ConversationID() != "second" {
		t.Errorf("Redials = %d, ConversationID = %q", r.Redials(), r.ConversationID())
	}

	calls := p.Calls()
	if len(calls) != 2 {
		t.Fatalf("connects = %d", len(calls))
	}
	if calls[0].Cfg.FirstMessage == "" || calls[1].Cfg.FirstMessage != "" {
		t.Errorf("greeting should only be sent on the first dial: %+v", calls)
	}
	if first.Closes() == 0 {
		t.Error("dropped session was not closed")
	}

	if err := r.SendAudio([]byte{7}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if len(second.Sent()) != 1 {
		t.Errorf("audio should reach the replacement session")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(redialled) != 1 || redialled[0] != "second" {
		t.Errorf("OnRedial calls = %v", redialled)
	}
}

// stubDialer dials once and fails every redial.
type stubDialer struct {
	sess providers2s.SessionHandle
}

func (d *stubDialer) Dial(context.Context) (providers2s.SessionHandle, error) { return d.sess, nil }

func (d *stubDialer) Redial(context.Context) (providers2s.SessionHandle, error) {
	return nil, errors.New("provider unavailable")
}

func TestRelay_RedialFailureEndsRelay(t *testing.T) {
	t.Parallel()

	sess := s2smock.NewSession(16000, 16000)
	r := s2s.New(&stubDialer{sess: sess})
	t.Cleanup(func() { _ = r.Close() })
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	sess.EndErr = errors.New("socket closed")
	sess.End()

	if _, ok := next(t, r); ok {
		t.Fatal("events should close when redial fails")
	}
	if r.Err() == nil {
		t.Error("Err should report the failed redial")
	}
}

func TestRelay_StartFailure(t *testing.T) {
	t.Parallel()

	p := &s2smock.Provider{ConnectErr: errors.New("401 unauthorized")}
	r := s2s.New(session.NewRedialer(session.RedialerConfig{
		Provider:   p,
		MaxRetries: 2,
		Backoff:    time.Millisecond,
	}))

	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail")
	}
	if len(p.Calls()) != 2 {
		t.Errorf("connects = %d, want 2", len(p.Calls()))
	}
	if _, ok := next(t, r); ok {
		t.Error("events should be closed after a failed start")
	}
	if err := r.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
}

func TestRelay_CloseIsIdempotent(t *testing.T) {
	t.Parallel()

	sess := s2smock.NewSession(16000, 16000)
	r := s2s.New(newRedialer(&s2smock.Provider{Session: sess}))
	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if sess.Closes() != 1 {
		t.Errorf("session closed %d times, want 1", sess.Closes())
	}
	if _, ok := next(t, r); ok {
		t.Error("events should be closed")
	}
	if err := r.SendAudio([]byte{1}); !errors.Is(err, providers2s.ErrSessionClosed) {
		t.Errorf("SendAudio after Close = %v", err)
	}
}
