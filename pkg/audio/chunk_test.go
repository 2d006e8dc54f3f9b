package audio_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/MrWong99/telebridge/pkg/audio"
)

func TestChunk_SplitsCompletely(t *testing.T) {
	t.Parallel()

	pcm := audio.FromSamples(sine(1000, 8000, 200, 3000), 8000)

	var (
		frames []audio.AudioFrame
		sizes  []int
	)
	for f := range audio.Chunk(pcm, 20*time.Millisecond) {
		frames = append(frames, f)
		sizes = append(sizes, f.SampleCount())
	}

	want := []int{160, 160, 160, 160, 160, 160, 40}
	if len(sizes) != len(want) {
		t.Fatalf("got %d chunks (%v), want %d", len(sizes), sizes, len(want))
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("chunk %d has %d samples, want %d", i, sizes[i], want[i])
		}
		if ts := frames[i].Timestamp; ts != time.Duration(i)*20*time.Millisecond {
			t.Errorf("chunk %d timestamp = %v", i, ts)
		}
	}
	if got := audio.Concat(frames); !bytes.Equal(got.Data, pcm.Data) {
		t.Error("concatenated chunks differ from the input")
	}
}

func TestChunk_WidebandFrameSize(t *testing.T) {
	t.Parallel()

	pcm := audio.Silence(16000, 100*time.Millisecond)
	n := 0
	for f := range audio.Chunk(pcm, 20*time.Millisecond) {
		if f.SampleCount() != 320 {
			t.Errorf("chunk %d has %d samples, want 320", n, f.SampleCount())
		}
		n++
	}
	if n != 5 {
		t.Errorf("got %d chunks, want 5", n)
	}
}

func TestChunk_EmptyAndEarlyStop(t *testing.T) {
	t.Parallel()

	for range audio.Chunk(audio.AudioFrame{SampleRate: 8000}, 20*time.Millisecond) {
		t.Fatal("empty input yielded a chunk")
	}

	n := 0
	for range audio.Chunk(audio.Silence(8000, time.Second), 20*time.Millisecond) {
		n++
		if n == 3 {
			break
		}
	}
	if n != 3 {
		t.Errorf("iterated %d times, want 3", n)
	}
}

func TestChunk_ChunksDoNotShareCapacity(t *testing.T) {
	t.Parallel()

	pcm := audio.FromSamples([]int16{1, 2, 3, 4}, 100) // 10 ms = 1 sample
	var first audio.AudioFrame
	for f := range audio.Chunk(pcm, 10*time.Millisecond) {
		first = f
		break
	}
	_ = append(first.Data, 0xAA, 0xBB)
	if got := pcm.Samples()[1]; got != 2 {
		t.Errorf("appending to a chunk overwrote its neighbour: %d", got)
	}
}

func TestChunk_PanicsOnNonPositiveDuration(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Error("expected panic for zero duration")
		}
	}()
	audio.Chunk(audio.Silence(8000, time.Second), 0)
}

func TestChunkEncoded(t *testing.T) {
	t.Parallel()

	enc := audio.EncodedFrame{Data: bytes.Repeat([]byte{0xFF}, 500), StreamID: "MZ123"}
	var sizes []int
	for f := range audio.ChunkEncoded(enc, audio.DefaultChunkDuration) {
		if f.StreamID != "MZ123" {
			t.Errorf("StreamID = %q", f.StreamID)
		}
		sizes = append(sizes, len(f.Data))
	}
	want := []int{160, 160, 160, 20}
	if len(sizes) != len(want) {
		t.Fatalf("sizes = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("chunk %d = %d bytes, want %d", i, sizes[i], want[i])
		}
	}
}
