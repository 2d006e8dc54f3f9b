package twilio_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/telebridge/pkg/audio"
	"github.com/MrWong99/telebridge/pkg/transport/twilio"
)

// pair starts a server that accepts one Media Streams connection and returns
// the server-side Conn plus the client socket standing in for Twilio.
func pair(t *testing.T) (*twilio.Conn, *websocket.Conn) {
	t.Helper()

	accepted := make(chan *twilio.Conn, 1)
	done := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := twilio.Accept(w, r)
		if err != nil {
			return
		}
		defer c.Close()
		accepted <- c
		<-done
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(done) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { client.CloseNow() })

	select {
	case c := <-accepted:
		return c, client
	case <-ctx.Done():
		t.Fatal("server did not accept")
		return nil, nil
	}
}

func send(t *testing.T, ws *websocket.Conn, msg string) {
	t.Helper()
	if err := ws.Write(context.Background(), websocket.MessageText, []byte(msg)); err != nil {
		t.Fatalf("client write: %v", err)
	}
}

func recv(t *testing.T, ws *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.Fatalf("client read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return m
}

const startMsg = `{"event":"start","sequenceNumber":"1","streamSid":"MZ1","start":{"streamSid":"MZ1","accountSid":"AC1","callSid":"CA1","tracks":["inbound"],"mediaFormat":{"encoding":"audio/x-mulaw","sampleRate":8000,"channels":1},"customParameters":{"lang":"en"}}}`

func TestConn_InboundEvents(t *testing.T) {
	t.Parallel()

	conn, client := pair(t)
	ctx := context.Background()

	send(t, client, `{"event":"connected","protocol":"Call","version":"1.0.0"}`)
	send(t, client, startMsg)
	send(t, client, `not json`)
	send(t, client, `{"event":"media","streamSid":"MZ1","media":{"track":"inbound","chunk":"1","timestamp":"5","payload":"//8="}}`)
	send(t, client, `{"event":"dtmf","streamSid":"MZ1","dtmf":{"track":"inbound_track","digit":"5"}}`)
	send(t, client, `{"event":"mark","streamSid":"MZ1","mark":{"name":"resp-1"}}`)
	send(t, client, `{"event":"stop","streamSid":"MZ1","stop":{"accountSid":"AC1","callSid":"CA1"}}`)

	var events []string
	for {
		msg, err := conn.Next(ctx)
		if errors.Is(err, twilio.ErrStopped) {
			break
		}
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		events = append(events, msg.Event)
		switch msg.Event {
		case twilio.EventStart:
			if msg.Start.CallSID != "CA1" || msg.Start.MediaFormat.SampleRate != 8000 || msg.Start.CustomParameters["lang"] != "en" {
				t.Errorf("start = %+v", msg.Start)
			}
		case twilio.EventMedia:
			if msg.Media.Payload != "//8=" || msg.Media.Track != "inbound" {
				t.Errorf("media = %+v", msg.Media)
			}
		case twilio.EventDTMF:
			if msg.DTMF.Digit != "5" {
				t.Errorf("dtmf = %+v", msg.DTMF)
			}
		case twilio.EventMark:
			if msg.Mark.Name != "resp-1" {
				t.Errorf("mark = %+v", msg.Mark)
			}
		}
	}

	want := []string{"connected", "start", "media", "dtmf", "mark", "stop"}
	if strings.Join(events, ",") != strings.Join(want, ",") {
		t.Errorf("events = %v, want %v", events, want)
	}
	if conn.StreamSID() != "MZ1" || conn.CallSID() != "CA1" {
		t.Errorf("sids = %q, %q", conn.StreamSID(), conn.CallSID())
	}
	if _, err := conn.Next(ctx); !errors.Is(err, twilio.ErrStopped) {
		t.Errorf("Next after stop: %v, want ErrStopped", err)
	}
}

func TestConn_Outbound(t *testing.T) {
	t.Parallel()

	conn, client := pair(t)
	ctx := context.Background()

	if err := conn.SendClear(ctx); !errors.Is(err, twilio.ErrNoStream) {
		t.Fatalf("SendClear before start: %v, want ErrNoStream", err)
	}

	send(t, client, startMsg)
	if _, err := conn.Next(ctx); err != nil {
		t.Fatal(err)
	}

	if err := conn.SendMedia(ctx, audio.EncodedFrame{Data: []byte{0xFF, 0x7F}}); err != nil {
		t.Fatal(err)
	}
	m := recv(t, client)
	media, _ := m["media"].(map[string]any)
	if m["event"] != "media" || m["streamSid"] != "MZ1" || media["payload"] != "/38=" {
		t.Errorf("media message = %v", m)
	}

	if err := conn.SendClear(ctx); err != nil {
		t.Fatal(err)
	}
	if m := recv(t, client); m["event"] != "clear" || m["streamSid"] != "MZ1" {
		t.Errorf("clear message = %v", m)
	}

	if err := conn.SendMark(ctx, "resp-2"); err != nil {
		t.Fatal(err)
	}
	m = recv(t, client)
	mark, _ := m["mark"].(map[string]any)
	if m["event"] != "mark" || mark["name"] != "resp-2" {
		t.Errorf("mark message = %v", m)
	}
}

func TestConn_ClientCloseStops(t *testing.T) {
	t.Parallel()

	conn, client := pair(t)
	go client.Close(websocket.StatusNormalClosure, "bye")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := conn.Next(ctx); !errors.Is(err, twilio.ErrStopped) {
		t.Errorf("Next after close: %v, want ErrStopped", err)
	}
}
