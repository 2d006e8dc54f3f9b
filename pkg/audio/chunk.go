package audio

import (
	"iter"
	"slices"
	"time"
)

// Chunk splits pcm into consecutive frames of duration d. The final frame may
// be shorter; nothing is padded. The sequence is lazy and shares no state
// between calls, so ranging over it twice yields the same frames.
//
// Each yielded frame aliases pcm.Data with its capacity clipped, so appending
// to a chunk never writes into its neighbour.
func Chunk(pcm AudioFrame, d time.Duration) iter.Seq[AudioFrame] {
	size := chunkBytes(pcm.SampleRate, pcm.channels(), d)
	step := time.Duration(0)
	if pcm.SampleRate > 0 {
		step = time.Duration(size/(bytesPerSample*pcm.channels())) * time.Second / time.Duration(pcm.SampleRate)
	}
	return func(yield func(AudioFrame) bool) {
		if len(pcm.Data) == 0 {
			return
		}
		ts := pcm.Timestamp
		for data := range slices.Chunk(pcm.Data, size) {
			f := AudioFrame{Data: data, SampleRate: pcm.SampleRate, Channels: pcm.Channels, Timestamp: ts}
			if !yield(f) {
				return
			}
			ts += step
		}
	}
}

// ChunkEncoded splits μ-law audio into frames of duration d (160 bytes for the
// standard 20 ms). The stream id is carried onto every frame.
func ChunkEncoded(enc EncodedFrame, d time.Duration) iter.Seq[EncodedFrame] {
	size := int(int64(TelephonyRate) * int64(d) / int64(time.Second))
	if size < 1 {
		size = 1
	}
	return func(yield func(EncodedFrame) bool) {
		if len(enc.Data) == 0 {
			return
		}
		for data := range slices.Chunk(enc.Data, size) {
			if !yield(EncodedFrame{Data: data, StreamID: enc.StreamID}) {
				return
			}
		}
	}
}

// chunkBytes returns the byte length of a d-long chunk, never less than one
// whole sample frame.
func chunkBytes(rate, channels int, d time.Duration) int {
	if d <= 0 {
		panic("audio: chunk duration must be positive")
	}
	samples := int(int64(rate) * int64(d) / int64(time.Second))
	if samples < 1 {
		samples = 1
	}
	return samples * channels * bytesPerSample
}
