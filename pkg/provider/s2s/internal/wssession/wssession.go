// Package wssession holds the WebSocket plumbing shared by the
// speech-to-speech providers: one reader goroutine feeding an event channel,
// first-error capture and idempotent shutdown.
package wssession

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/telebridge/pkg/provider/s2s"
)

// ReadLimit caps a single server message. Audio deltas of a few seconds
// exceed the websocket default.
const ReadLimit = 1 << 22

// Session wraps an open provider socket. Provider sessions embed it and add
// SendAudio, ConversationID and Formats.
type Session struct {
	name   string
	conn   *websocket.Conn
	events chan s2s.Event
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	err    error
	closed bool

	stop sync.Once
}

// New takes ownership of conn. name prefixes errors and log lines.
func New(name string, conn *websocket.Conn) *Session {
	conn.SetReadLimit(ReadLimit)
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		name:   name,
		conn:   conn,
		events: make(chan s2s.Event, 64),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Read returns the next raw message. It is meant for handshakes that run
// before [Session.Serve].
func (s *Session) Read(ctx context.Context) ([]byte, error) {
	_, data, err := s.conn.Read(ctx)
	return data, err
}

// WriteJSON sends v as a text message, bounded by ctx and the session's life.
func (s *Session) WriteJSON(ctx context.Context, v any) error {
	ctx, cancel := context.WithCancel(ctx)
	defer context.AfterFunc(s.ctx, cancel)()
	defer cancel()
	return wsjson.Write(ctx, s.conn, v)
}

// Send is WriteJSON for the live session; it fails with
// [s2s.ErrSessionClosed] once the session ended.
func (s *Session) Send(v any) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return s2s.ErrSessionClosed
	}
	return s.WriteJSON(s.ctx, v)
}

// Serve starts the reader goroutine. handle runs for every message in
// arrival order and may call [Session.Emit] and [Session.Send]. The event
// channel closes when the socket does; a normal closure or [Session.Close]
// leaves Err nil.
func (s *Session) Serve(handle func(data []byte)) {
	go func() {
		defer s.finish()
		for {
			_, data, err := s.conn.Read(s.ctx)
			if err != nil {
				if s.ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
					s.fail(fmt.Errorf("%s: read: %w", s.name, err))
				}
				return
			}
			handle(data)
		}
	}()
}

// Emit delivers e unless the session is shutting down.
func (s *Session) Emit(e s2s.Event) {
	select {
	case s.events <- e:
	case <-s.ctx.Done():
	}
}

// Debug logs under the session's name.
func (s *Session) Debug(msg string, args ...any) {
	slog.Debug(s.name+": "+msg, args...)
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *Session) finish() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	close(s.events)
}

// Abort tears the socket down after a failed handshake, before Serve.
func (s *Session) Abort(reason string) {
	s.cancel()
	s.conn.Close(websocket.StatusInternalError, reason)
}

func (s *Session) Events() <-chan s2s.Event { return s.events }

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close ends the session. It is idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stop.Do(func() {
		s.cancel()
		s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}
