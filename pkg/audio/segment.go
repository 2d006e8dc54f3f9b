package audio

import "sync/atomic"

// AudioSegment is one agent reply on its way to the caller. Frames arrive on
// Audio as they are produced, so playback can start before synthesis ends.
type AudioSegment struct {
	// ID labels the segment. The bridge echoes it as the transport mark name
	// once the segment has played out completely.
	ID string

	// Audio carries transport-ready frames (20 ms of μ-law on the telephony
	// path). The producer closes it when the segment ends or fails; check
	// Err afterwards.
	Audio <-chan []byte

	streamErr atomic.Pointer[error]
}

// Err returns the error that ended Audio early, or nil.
func (s *AudioSegment) Err() error {
	if p := s.streamErr.Load(); p != nil {
		return *p
	}
	return nil
}

// SetStreamErr records a production failure. Call it before closing Audio.
func (s *AudioSegment) SetStreamErr(err error) {
	s.streamErr.Store(&err)
}

// SegmentFromFrames returns a segment whose Audio channel is pre-loaded with
// frames and already closed.
func SegmentFromFrames(id string, frames [][]byte) *AudioSegment {
	ch := make(chan []byte, len(frames))
	for _, f := range frames {
		ch <- f
	}
	close(ch)
	return &AudioSegment{ID: id, Audio: ch}
}
