package audio

import (
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// DecodeMP3 decodes an MP3 stream into a mono 16-bit frame at the stream's
// native sample rate. The decoder always produces stereo, which is down-mixed.
func DecodeMP3(r io.Reader) (AudioFrame, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return AudioFrame{}, fmt.Errorf("audio: mp3 decoder: %w", err)
	}
	stereo, err := io.ReadAll(dec)
	if err != nil {
		return AudioFrame{}, fmt.Errorf("audio: mp3 decode: %w", err)
	}
	return Mono(AudioFrame{Data: stereo, SampleRate: dec.SampleRate(), Channels: 2}), nil
}
