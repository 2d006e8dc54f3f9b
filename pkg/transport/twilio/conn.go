package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/telebridge/pkg/audio"
)

var (
	// ErrStopped is returned by [Conn.Next] once the stop event has been
	// delivered or the socket was closed normally.
	ErrStopped = errors.New("twilio: stream stopped")

	// ErrNoStream is returned by send methods before the start event has
	// supplied a stream SID.
	ErrNoStream = errors.New("twilio: stream sid not known yet")
)

// maxMessageSize bounds inbound messages. Media events are well under 1 KiB.
const maxMessageSize = 64 << 10

// Conn is one Media Streams socket.
//
// Next must be called from a single goroutine. The send methods are safe for
// concurrent use with each other and with Next.
type Conn struct {
	ws *websocket.Conn

	mu        sync.Mutex
	streamSID string
	callSID   string
	stopped   bool
}

// Accept upgrades an HTTP request from Twilio to a Media Streams [Conn].
func Accept(w http.ResponseWriter, r *http.Request) (*Conn, error) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Twilio does not send an Origin header.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return nil, fmt.Errorf("twilio: accept: %w", err)
	}
	return NewConn(ws), nil
}

// NewConn wraps an established socket.
func NewConn(ws *websocket.Conn) *Conn {
	ws.SetReadLimit(maxMessageSize)
	return &Conn{ws: ws}
}

// Next returns the next inbound event. Messages that are not valid JSON are
// logged and skipped. After the stop event Next returns [ErrStopped].
func (c *Conn) Next(ctx context.Context) (Message, error) {
	for {
		c.mu.Lock()
		stopped := c.stopped
		c.mu.Unlock()
		if stopped {
			return Message{}, ErrStopped
		}

		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return Message{}, ErrStopped
			}
			return Message{}, fmt.Errorf("twilio: read: %w", err)
		}
		if typ != websocket.MessageText {
			slog.Debug("twilio: ignoring binary message", "bytes", len(data))
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("twilio: dropping undecodable message", "err", err, "bytes", len(data))
			continue
		}

		switch msg.Event {
		case EventStart:
			if msg.Start != nil {
				c.mu.Lock()
				c.streamSID = msg.Start.StreamSID
				c.callSID = msg.Start.CallSID
				c.mu.Unlock()
			}
		case EventStop:
			c.mu.Lock()
			c.stopped = true
			c.mu.Unlock()
		}
		return msg, nil
	}
}

// StreamSID returns the stream SID learned from the start event.
func (c *Conn) StreamSID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamSID
}

// CallSID returns the call SID learned from the start event.
func (c *Conn) CallSID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callSID
}

// SendMedia sends one μ-law frame. The frame's StreamID is used if set,
// otherwise the stream SID from the start event.
func (c *Conn) SendMedia(ctx context.Context, enc audio.EncodedFrame) error {
	sid := enc.StreamID
	if sid == "" {
		sid = c.StreamSID()
	}
	if sid == "" {
		return ErrNoStream
	}
	return c.writeJSON(ctx, outboundMedia{
		Event:     EventMedia,
		StreamSID: sid,
		Media:     outboundBody{Payload: audio.EncodeForTransport(enc)},
	})
}

// SendClear tells Twilio to discard all buffered outbound audio.
func (c *Conn) SendClear(ctx context.Context) error {
	sid := c.StreamSID()
	if sid == "" {
		return ErrNoStream
	}
	return c.writeJSON(ctx, outboundClear{Event: EventClear, StreamSID: sid})
}

// SendMark queues a named mark behind the audio sent so far. Twilio echoes
// it as a mark event once playback reaches it.
func (c *Conn) SendMark(ctx context.Context, name string) error {
	sid := c.StreamSID()
	if sid == "" {
		return ErrNoStream
	}
	return c.writeJSON(ctx, outboundMark{Event: EventMark, StreamSID: sid, Mark: Mark{Name: name}})
}

func (c *Conn) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("twilio: marshal: %w", err)
	}
	if err := c.ws.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("twilio: write: %w", err)
	}
	return nil
}

// Close closes the socket with a normal closure status.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "stream ended")
}
