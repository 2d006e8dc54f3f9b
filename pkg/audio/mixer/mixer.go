// Package mixer plays agent speech back into a call. Segments play one after
// another in the order they were queued, frames are paced at the telephony
// frame rate, and a barge-in flushes everything that has not been sent yet.
package mixer

import (
	"sync"
	"time"

	"github.com/MrWong99/telebridge/pkg/audio"
)

// DefaultPacing is the delay after each emitted frame. It matches the 20 ms
// telephony frame so the far end's jitter buffer is never flooded.
const DefaultPacing = audio.DefaultChunkDuration

// Option configures a [Player].
type Option func(*Player)

// WithPacing sets the delay after each emitted frame. Zero disables pacing,
// which is only useful in tests.
func WithPacing(d time.Duration) Option {
	return func(p *Player) { p.pacing = d }
}

// WithClearHandler registers fn to run on every [Player.Clear]. fn is
// serialised with frame output: no frame of a cleared segment is emitted
// after fn starts.
func WithClearHandler(fn func()) Option {
	return func(p *Player) { p.onClear = fn }
}

// WithSegmentDone registers fn to run after a segment has played out
// completely. It is not called for cleared or failed segments.
func WithSegmentDone(fn func(*audio.AudioSegment)) Option {
	return func(p *Player) { p.onDone = fn }
}

// Player is the outbound playout queue of one call. Frames of one segment
// are emitted in generation order and segments never overlap.
//
// All methods are safe for concurrent use.
type Player struct {
	output  func([]byte)
	onClear func()
	onDone  func(*audio.AudioSegment)
	pacing  time.Duration

	// outMu serialises output, onClear and onDone.
	outMu sync.Mutex

	mu      sync.Mutex
	queue   []*audio.AudioSegment
	playing *audio.AudioSegment
	cancel  chan struct{} // closed to stop the playing segment
	closed  bool

	notify chan struct{}
	done   chan struct{}
}

// New starts a Player delivering frames to output, which is called from a
// single goroutine. Close releases it.
func New(output func([]byte), opts ...Option) *Player {
	p := &Player{
		output: output,
		pacing: DefaultPacing,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	go p.run()
	return p
}

// Enqueue queues seg behind everything already queued. After Close the
// segment is drained and dropped.
func (p *Player) Enqueue(seg *audio.AudioSegment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		go discard(seg.Audio)
		return
	}
	p.queue = append(p.queue, seg)
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// Clear stops the playing segment, drops the queue and runs the clear
// handler. The handler runs even when nothing is playing, since the far end
// may still hold buffered audio.
func (p *Player) Clear() {
	p.mu.Lock()
	p.flushLocked()
	if p.onClear == nil {
		p.mu.Unlock()
		return
	}
	// Take outMu before releasing mu so a segment queued after the clear
	// cannot emit ahead of it.
	p.outMu.Lock()
	p.mu.Unlock()
	defer p.outMu.Unlock()
	p.onClear()
}

// IsPlaying reports whether a segment is being emitted.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing != nil
}

// Idle reports whether nothing is playing and nothing is queued.
func (p *Player) Idle() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing == nil && len(p.queue) == 0
}

// Close stops playback and drops the queue. It is idempotent.
func (p *Player) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.flushLocked()
	close(p.done)
	return nil
}

func (p *Player) flushLocked() {
	if p.cancel != nil {
		close(p.cancel)
		p.cancel = nil
	}
	p.playing = nil
	for _, seg := range p.queue {
		go discard(seg.Audio)
	}
	p.queue = nil
}

func (p *Player) run() {
	for {
		select {
		case <-p.done:
			return
		case <-p.notify:
		}
		for {
			seg, cancel, ok := p.next()
			if !ok {
				break
			}
			completed := p.play(seg, cancel)

			p.mu.Lock()
			if p.playing == seg {
				p.playing = nil
				p.cancel = nil
			}
			p.mu.Unlock()

			if completed && p.onDone != nil {
				p.outMu.Lock()
				select {
				case <-cancel:
				default:
					p.onDone(seg)
				}
				p.outMu.Unlock()
			}
		}
	}
}

// next pops the head of the queue and marks it playing.
func (p *Player) next() (*audio.AudioSegment, chan struct{}, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil, nil, false
	}
	seg := p.queue[0]
	p.queue[0] = nil
	p.queue = p.queue[1:]
	p.playing = seg
	p.cancel = make(chan struct{})
	return seg, p.cancel, true
}

// play streams seg to the output, one frame per pacing interval, until it
// ends or cancel is closed. It reports whether seg played out completely.
func (p *Player) play(seg *audio.AudioSegment, cancel chan struct{}) bool {
	var pace *time.Timer
	if p.pacing > 0 {
		pace = time.NewTimer(p.pacing)
		pace.Stop()
		defer pace.Stop()
	}
	stop := func() bool {
		go discard(seg.Audio)
		return false
	}

	for {
		select {
		case <-p.done:
			return stop()
		case <-cancel:
			return stop()
		case frame, ok := <-seg.Audio:
			if !ok {
				return seg.Err() == nil
			}
			if !p.emit(frame, cancel) {
				return stop()
			}
		}

		if pace == nil {
			continue
		}
		pace.Reset(p.pacing)
		select {
		case <-p.done:
			return stop()
		case <-cancel:
			return stop()
		case <-pace.C:
		}
	}
}

// emit hands one frame to the output unless the segment was cancelled.
func (p *Player) emit(frame []byte, cancel chan struct{}) bool {
	p.outMu.Lock()
	defer p.outMu.Unlock()
	select {
	case <-cancel:
		return false
	default:
	}
	p.output(frame)
	return true
}

func discard(ch <-chan []byte) {
	for range ch {
	}
}
