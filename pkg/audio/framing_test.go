package audio_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/MrWong99/telebridge/pkg/audio"
)

func TestTransportFraming_RoundTrip(t *testing.T) {
	t.Parallel()

	enc := audio.EncodedFrame{Data: []byte{0x00, 0x7F, 0x80, 0xFF}}
	text := audio.EncodeForTransport(enc)
	if text != "AH+A/w==" {
		t.Errorf("EncodeForTransport = %q", text)
	}
	got, err := audio.DecodeFromTransport(text)
	if err != nil {
		t.Fatalf("DecodeFromTransport: %v", err)
	}
	if !bytes.Equal(got.Data, enc.Data) {
		t.Errorf("round trip = %v, want %v", got.Data, enc.Data)
	}
}

func TestTransportFraming_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
	}{
		{"not base64", "!!!not-base64!!!"},
		{"bad padding", "AH+A/w="},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := audio.DecodeFromTransport(tt.text)
			var mfe *audio.MalformedFrameError
			if !errors.As(err, &mfe) {
				t.Fatalf("error = %v, want *MalformedFrameError", err)
			}
			if mfe.Length != len(tt.text) {
				t.Errorf("Length = %d, want %d", mfe.Length, len(tt.text))
			}
		})
	}
}

func TestPCMFraming(t *testing.T) {
	t.Parallel()

	pcm := audio.FromSamples([]int16{100, -100, 32767}, 16000)
	got, err := audio.DecodePCMFromTransport(audio.EncodePCMForTransport(pcm), 16000)
	if err != nil {
		t.Fatalf("DecodePCMFromTransport: %v", err)
	}
	if !bytes.Equal(got.Data, pcm.Data) || got.SampleRate != 16000 {
		t.Errorf("round trip = %+v", got)
	}

	// Three bytes cannot be 16-bit PCM.
	_, err = audio.DecodePCMFromTransport("AAEC", 16000)
	var mfe *audio.MalformedFrameError
	if !errors.As(err, &mfe) {
		t.Errorf("odd-length payload: error = %v, want *MalformedFrameError", err)
	}
}
