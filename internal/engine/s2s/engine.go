// Package s2s relays a phone call to a speech-to-speech provider.
//
// A [Relay] owns the provider session of one call. It opens the session on
// [Relay.Start], forwards caller audio with [Relay.SendAudio] and exposes the
// provider's events on a stable channel returned by [Relay.Events]. When the
// session drops while the call is still up, the relay reopens it through its
// [Dialer] and keeps forwarding on the same channel, so the bridge never sees
// the swap.
package s2s

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/telebridge/internal/observe"
	providers2s "github.com/MrWong99/telebridge/pkg/provider/s2s"
)

// defaultEventBuf is the buffer depth of the channel returned by
// [Relay.Events].
const defaultEventBuf = 64

// Dialer opens provider sessions. [session.Redialer] is the production
// implementation.
type Dialer interface {
	// Dial opens the first session of a call.
	Dial(ctx context.Context) (providers2s.SessionHandle, error)

	// Redial opens a replacement session after an unexpected drop.
	Redial(ctx context.Context) (providers2s.SessionHandle, error)
}

// Option is a functional option for configuring a [Relay].
type Option func(*Relay)

// WithEventBuffer sets the buffer capacity of the events channel. The
// default is 64.
func WithEventBuffer(n int) Option {
	return func(r *Relay) {
		r.eventBuf = n
	}
}

// WithMetrics records connect latency and redials on m instead of the
// default metrics.
func WithMetrics(m *observe.Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

// WithOnRedial registers a callback invoked after a replacement session has
// opened. conversationID is the new session's identifier.
func WithOnRedial(fn func(conversationID string)) Option {
	return func(r *Relay) {
		r.onRedial = fn
	}
}

// Relay is the provider side of a conversational-AI call.
//
// SendAudio may be called concurrently with the consumption of Events.
type Relay struct {
	dialer   Dialer
	eventBuf int
	metrics  *observe.Metrics
	onRedial func(conversationID string)

	events chan providers2s.Event
	done   chan struct{}
	cancel context.CancelFunc

	mu      sync.Mutex
	session providers2s.SessionHandle
	started bool
	closed  bool
	ended   bool
	err     error
	redials int

	// wg tracks the forwarding goroutine so Close can wait for it.
	wg sync.WaitGroup
}

// New creates a Relay that opens its sessions through d. Nothing is dialled
// until [Relay.Start].
func New(d Dialer, opts ...Option) *Relay {
	r := &Relay{
		dialer:   d,
		eventBuf: defaultEventBuf,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = observe.DefaultMetrics()
	}
	r.events = make(chan providers2s.Event, r.eventBuf)
	return r
}

// Start opens the first session and begins forwarding its events. ctx bounds
// the lifetime of the relay including every redial; cancelling it has the
// same effect as [Relay.Close] on the provider side.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return errors.New("s2s: relay is closed")
	}
	if r.started {
		r.mu.Unlock()
		return errors.New("s2s: relay already started")
	}
	r.started = true
	r.mu.Unlock()

	start := time.Now()
	sess, err := r.dialer.Dial(ctx)
	r.metrics.S2SConnectDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		r.finish(fmt.Errorf("s2s: connect: %w", err))
		close(r.events)
		return r.Err()
	}

	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		cancel()
		_ = sess.Close()
		close(r.events)
		return errors.New("s2s: relay is closed")
	}
	r.session = sess
	r.cancel = cancel
	r.mu.Unlock()

	observe.Logger(ctx).Info("s2s session opened", "conversation_id", sess.ConversationID())

	r.wg.Add(1)
	go r.forward(ctx, sess)
	return nil
}

// forward copies events from sess to r.events, reopening the session when it
// drops with an error. It closes r.events when it returns.
func (r *Relay) forward(ctx context.Context, sess providers2s.SessionHandle) {
	defer r.wg.Done()
	defer close(r.events)

	for {
		for ev := range sess.Events() {
			select {
			case r.events <- ev:
			case <-r.done:
				return
			}
		}

		dropErr := sess.Err()
		if dropErr == nil || r.isClosed() {
			r.finish(dropErr)
			return
		}

		log := observe.Logger(ctx)
		log.Warn("s2s session dropped, redialling", "err", dropErr)
		_ = sess.Close()

		next, err := r.dialer.Redial(ctx)
		if err != nil {
			if r.isClosed() {
				r.finish(nil)
				return
			}
			r.metrics.S2SRedials.Add(ctx, 1, metric.WithAttributes(observe.Attr("status", "failed")))
			r.finish(fmt.Errorf("s2s: redial after %v: %w", dropErr, err))
			return
		}
		r.metrics.S2SRedials.Add(ctx, 1, metric.WithAttributes(observe.Attr("status", "ok")))

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			_ = next.Close()
			return
		}
		r.session = next
		r.redials++
		r.mu.Unlock()

		log.Info("s2s session reopened", "conversation_id", next.ConversationID())
		if r.onRedial != nil {
			r.onRedial(next.ConversationID())
		}
		sess = next
	}
}

// SendAudio forwards a chunk of caller PCM at the input rate reported by
// [Relay.Formats]. Audio sent while a dropped session is being replaced is
// discarded. Once the relay has ended it returns [providers2s.ErrSessionClosed].
func (r *Relay) SendAudio(chunk []byte) error {
	r.mu.Lock()
	sess := r.session
	gone := r.closed || r.ended
	r.mu.Unlock()

	if gone || sess == nil {
		return providers2s.ErrSessionClosed
	}
	err := sess.SendAudio(chunk)
	if errors.Is(err, providers2s.ErrSessionClosed) {
		// forward decides whether this is the end of the call or a redial.
		return nil
	}
	return err
}

// Events returns the provider events of every session this relay opens. The
// channel is closed when the relay ends; [Relay.Err] then reports why.
func (r *Relay) Events() <-chan providers2s.Event {
	return r.events
}

// Formats returns the input and output PCM rates of the current session, or
// zeros before Start.
func (r *Relay) Formats() (inRate, outRate int) {
	r.mu.Lock()
	sess := r.session
	r.mu.Unlock()
	if sess == nil {
		return 0, 0
	}
	return sess.Formats()
}

// ConversationID returns the identifier of the current session.
func (r *Relay) ConversationID() string {
	r.mu.Lock()
	sess := r.session
	r.mu.Unlock()
	if sess == nil {
		return ""
	}
	return sess.ConversationID()
}

// Redials returns how many replacement sessions have been opened.
func (r *Relay) Redials() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.redials
}

// Err returns the error that ended the relay, or nil while it is running or
// after a clean end.
func (r *Relay) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Close closes the current session and waits for forwarding to stop.
// Subsequent calls are no-ops.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.done)
	sess := r.session
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if sess != nil {
		err = sess.Close()
	}
	r.wg.Wait()
	return err
}

func (r *Relay) isClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

func (r *Relay) finish(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ended = true
	if r.err == nil {
		r.err = err
	}
}
