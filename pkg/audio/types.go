// Package audio holds the telephony audio primitives shared by the bridge:
// linear PCM frames, G.711 μ-law frames, the μ-law codec, a band-limited
// resampler, fixed-duration chunking, and the base64 transport framing used
// inside JSON socket messages.
//
// Every transformation returns a new frame; frames are never mutated once
// produced.
package audio

import (
	"encoding/binary"
	"time"
)

const (
	// TelephonyRate is the implicit sample rate of every [EncodedFrame].
	TelephonyRate = 8000

	// DefaultChunkDuration is the standard telephony frame length.
	DefaultChunkDuration = 20 * time.Millisecond

	// bytesPerSample is the width of one linear PCM sample.
	bytesPerSample = 2
)

// AudioFrame represents a single frame of audio data flowing through the pipeline.
// Frames are the atomic unit of audio transport, decoded from the telephone
// socket, fed to VAD, buffered into utterances, and synthesized by TTS.
type AudioFrame struct {
	// PCM audio data, signed 16-bit little-endian.
	Data []byte

	// SampleRate in Hz (e.g., 8000 for the telephone side, 16000 for STT).
	SampleRate int

	// Channels: always 1 on the telephony path. Decoded MP3 is 2 until down-mixed.
	Channels int

	// Timestamp marks the frame start, relative to stream start.
	Timestamp time.Duration
}

// channels returns the channel count, treating the zero value as mono.
func (f AudioFrame) channels() int {
	if f.Channels <= 0 {
		return 1
	}
	return f.Channels
}

// SampleCount returns the number of samples per channel in the frame.
func (f AudioFrame) SampleCount() int {
	return len(f.Data) / (bytesPerSample * f.channels())
}

// Duration returns the playback duration of the frame. It is zero when the
// sample rate is unknown.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.SampleCount()) * time.Second / time.Duration(f.SampleRate)
}

// Samples decodes the frame into int16 samples (interleaved if multi-channel).
func (f AudioFrame) Samples() []int16 {
	out := make([]int16, len(f.Data)/bytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(f.Data[i*2:]))
	}
	return out
}

// FromSamples builds a mono frame from int16 samples.
func FromSamples(samples []int16, sampleRate int) AudioFrame {
	buf := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return AudioFrame{Data: buf, SampleRate: sampleRate, Channels: 1}
}

// Silence returns a mono frame of digital silence lasting d.
func Silence(sampleRate int, d time.Duration) AudioFrame {
	n := int(int64(sampleRate) * int64(d) / int64(time.Second))
	return AudioFrame{Data: make([]byte, n*bytesPerSample), SampleRate: sampleRate, Channels: 1}
}

// Concat joins frames of identical format into one frame. The result takes the
// format and timestamp of the first frame. Concat of nothing is the zero frame.
func Concat(frames []AudioFrame) AudioFrame {
	if len(frames) == 0 {
		return AudioFrame{}
	}
	size := 0
	for _, f := range frames {
		size += len(f.Data)
	}
	data := make([]byte, 0, size)
	for _, f := range frames {
		data = append(data, f.Data...)
	}
	return AudioFrame{
		Data:       data,
		SampleRate: frames[0].SampleRate,
		Channels:   frames[0].Channels,
		Timestamp:  frames[0].Timestamp,
	}
}

// EncodedFrame is G.711 μ-law audio at the implicit [TelephonyRate].
// StreamID is set when the frame is bound to a transport stream.
type EncodedFrame struct {
	Data     []byte
	StreamID string
}

// Duration returns the playback duration of the μ-law bytes (one byte per sample).
func (e EncodedFrame) Duration() time.Duration {
	return time.Duration(len(e.Data)) * time.Second / TelephonyRate
}
