package audio_test

import (
	"testing"
	"time"

	"github.com/MrWong99/telebridge/pkg/audio"
)

func TestAudioFrame_Duration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		frame audio.AudioFrame
		want  time.Duration
	}{
		{audio.Silence(8000, 20*time.Millisecond), 20 * time.Millisecond},
		{audio.Silence(16000, time.Second), time.Second},
		{audio.AudioFrame{Data: make([]byte, 1764), SampleRate: 44100, Channels: 2}, 10 * time.Millisecond},
		{audio.AudioFrame{Data: make([]byte, 10)}, 0},
	}
	for _, tt := range tests {
		if got := tt.frame.Duration(); got != tt.want {
			t.Errorf("Duration(%d bytes @ %dHz) = %v, want %v", len(tt.frame.Data), tt.frame.SampleRate, got, tt.want)
		}
	}
}

func TestSilence(t *testing.T) {
	t.Parallel()

	f := audio.Silence(8000, 20*time.Millisecond)
	if len(f.Data) != 320 || f.SampleRate != 8000 || f.Channels != 1 {
		t.Fatalf("Silence = %d bytes @ %dHz %dch", len(f.Data), f.SampleRate, f.Channels)
	}
	for _, b := range f.Data {
		if b != 0 {
			t.Fatal("Silence contains non-zero bytes")
		}
	}
}

func TestConcat(t *testing.T) {
	t.Parallel()

	a := audio.FromSamples([]int16{1, 2}, 8000)
	a.Timestamp = time.Second
	b := audio.FromSamples([]int16{3}, 8000)

	got := audio.Concat([]audio.AudioFrame{a, b})
	samples := got.Samples()
	if len(samples) != 3 || samples[0] != 1 || samples[2] != 3 {
		t.Errorf("Concat samples = %v", samples)
	}
	if got.Timestamp != time.Second || got.SampleRate != 8000 {
		t.Errorf("Concat metadata = %v @ %dHz", got.Timestamp, got.SampleRate)
	}
	if empty := audio.Concat(nil); len(empty.Data) != 0 {
		t.Error("Concat(nil) should be empty")
	}
}
