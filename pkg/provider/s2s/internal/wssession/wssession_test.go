package wssession

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/telebridge/pkg/provider/s2s"
)

// dial connects a Session to a server running script on the far end.
func dial(t *testing.T, script func(ctx context.Context, c *websocket.Conn)) *Session {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		script(r.Context(), c)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	s := New("test", conn)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func drain(t *testing.T, s *Session) []s2s.Event {
	t.Helper()
	var got []s2s.Event
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e, ok := <-s.Events():
			if !ok {
				return got
			}
			got = append(got, e)
		case <-timeout:
			t.Fatal("event stream never closed")
		}
	}
}

func TestServe_EmitsInOrderAndEndsCleanly(t *testing.T) {
	s := dial(t, func(ctx context.Context, c *websocket.Conn) {
		for _, text := range []string{"hello", "there"} {
			_ = wsjson.Write(ctx, c, map[string]string{"text": text})
		}
		c.Close(websocket.StatusNormalClosure, "bye")
	})
	s.Serve(func(data []byte) {
		s.Emit(s2s.Event{Type: s2s.EventAgentResponse, Text: strings.TrimSpace(string(data))})
	})

	got := drain(t, s)
	if len(got) != 2 || got[0].Text != `{"text":"hello"}` || got[1].Text != `{"text":"there"}` {
		t.Errorf("events = %+v", got)
	}
	if err := s.Err(); err != nil {
		t.Errorf("Err = %v, want nil after a normal closure", err)
	}
	if err := s.Send("late"); !errors.Is(err, s2s.ErrSessionClosed) {
		t.Errorf("Send after end = %v, want ErrSessionClosed", err)
	}
}

func TestServe_AbnormalCloseIsReported(t *testing.T) {
	s := dial(t, func(_ context.Context, c *websocket.Conn) {
		c.Close(websocket.StatusPolicyViolation, "quota exceeded")
	})
	s.Serve(func([]byte) {})

	drain(t, s)
	if err := s.Err(); err == nil || !strings.HasPrefix(err.Error(), "test: read:") {
		t.Errorf("Err = %v, want a prefixed read error", err)
	}
}

func TestSend_ReachesPeer(t *testing.T) {
	got := make(chan map[string]string, 1)
	s := dial(t, func(ctx context.Context, c *websocket.Conn) {
		var v map[string]string
		if err := wsjson.Read(ctx, c, &v); err == nil {
			got <- v
		}
		<-c.CloseRead(ctx).Done()
	})
	s.Serve(func([]byte) {})

	if err := s.Send(map[string]string{"type": "input_audio_buffer.append"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case v := <-got:
		if v["type"] != "input_audio_buffer.append" {
			t.Errorf("peer got %v", v)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("peer got nothing")
	}
}

func TestClose_Idempotent(t *testing.T) {
	s := dial(t, func(ctx context.Context, c *websocket.Conn) {
		<-c.CloseRead(ctx).Done()
	})
	s.Serve(func([]byte) {})

	_ = s.Close()
	_ = s.Close()
	drain(t, s)
	if err := s.Err(); err != nil {
		t.Errorf("Err = %v, want nil after Close", err)
	}
}
