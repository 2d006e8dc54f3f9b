package recorder_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/telebridge/internal/recorder"
	"github.com/MrWong99/telebridge/pkg/audio"
)

func tone(rate int, d time.Duration, v int16) audio.AudioFrame {
	n := int(int64(rate) * int64(d) / int64(time.Second))
	s := make([]int16, n)
	for i := range s {
		s[i] = v
	}
	return audio.FromSamples(s, rate)
}

func TestRecorder_SaveWAV(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := recorder.New(recorder.Config{Dir: dir}, "CA1")
	r.Inbound(tone(8000, 20*time.Millisecond, 1000))
	r.Outbound(tone(8000, 20*time.Millisecond, -1000))

	path, err := r.Save(context.Background())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Ext(path) != ".wav" || !strings.Contains(filepath.Base(path), "CA1") {
		t.Errorf("path = %q", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	f, err := audio.DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if f.Channels != 2 || f.SampleRate != 8000 {
		t.Fatalf("format = %d ch @ %d Hz, want stereo 8000", f.Channels, f.SampleRate)
	}
	s := f.Samples()
	if len(s) != 320 {
		t.Fatalf("samples = %d, want 320 (160 per channel)", len(s))
	}
	if s[0] != 1000 || s[1] != -1000 {
		t.Errorf("first frame = (%d, %d), want caller left and agent right", s[0], s[1])
	}
}

func TestRecorder_AlignsAgentAfterPause(t *testing.T) {
	t.Parallel()

	r := recorder.New(recorder.Config{Dir: t.TempDir()}, "CA2")
	r.Inbound(tone(8000, time.Second, 500))
	r.Outbound(tone(8000, 100*time.Millisecond, 700))

	if got := r.Duration(); got != 1100*time.Millisecond {
		t.Errorf("Duration = %v, want 1.1s (agent placed after caller's second)", got)
	}
}

func TestRecorder_ResamplesForeignRates(t *testing.T) {
	t.Parallel()

	r := recorder.New(recorder.Config{Dir: t.TempDir()}, "CA3")
	r.Inbound(tone(16000, 200*time.Millisecond, 800))
	got := r.Duration()
	if got < 190*time.Millisecond || got > 210*time.Millisecond {
		t.Errorf("Duration = %v, want ~200ms", got)
	}
}

func TestRecorder_EmptySave(t *testing.T) {
	t.Parallel()

	r := recorder.New(recorder.Config{Dir: t.TempDir()}, "CA4")
	if _, err := r.Save(context.Background()); !errors.Is(err, recorder.ErrEmpty) {
		t.Errorf("Save err = %v, want ErrEmpty", err)
	}
}

func TestRecorder_MP3WithoutFFmpegKeepsWAV(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := recorder.New(recorder.Config{
		Dir:        dir,
		Format:     recorder.FormatMP3,
		FFmpegPath: filepath.Join(dir, "no-such-ffmpeg"),
	}, "CA5")
	r.Inbound(tone(8000, 20*time.Millisecond, 1))

	path, err := r.Save(context.Background())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Ext(path) != ".wav" {
		t.Errorf("path = %q, want the wav fallback", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("wav missing: %v", err)
	}
}

func TestRecorder_MP3Conversion(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg is a shell script")
	}

	dir := t.TempDir()
	// Arguments: -y -i <in> -codec:a libmp3lame <out>
	fake := filepath.Join(dir, "ffmpeg")
	script := "#!/bin/sh\ncp \"$3\" \"$6\"\n"
	if err := os.WriteFile(fake, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "out")
	r := recorder.New(recorder.Config{Dir: out, Format: recorder.FormatMP3, FFmpegPath: fake}, "CA6")
	r.Outbound(tone(8000, 20*time.Millisecond, 1))

	path, err := r.Save(context.Background())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Ext(path) != ".mp3" {
		t.Fatalf("path = %q, want .mp3", path)
	}
	wavs, _ := filepath.Glob(filepath.Join(out, "*.wav"))
	if len(wavs) != 0 {
		t.Errorf("intermediate wav not removed: %v", wavs)
	}
}

func TestRecorder_FailingFFmpegKeepsWAV(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg is a shell script")
	}

	dir := t.TempDir()
	fake := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(fake, []byte("#!/bin/sh\necho 'Unknown encoder' >&2\nexit 1\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "out")
	r := recorder.New(recorder.Config{Dir: out, Format: recorder.FormatMP3, FFmpegPath: fake}, "CA7")
	r.Inbound(tone(8000, 20*time.Millisecond, 1))

	path, err := r.Save(context.Background())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Ext(path) != ".wav" {
		t.Errorf("path = %q, want wav fallback", path)
	}
	mp3s, _ := filepath.Glob(filepath.Join(out, "*.mp3"))
	if len(mp3s) != 0 {
		t.Errorf("partial mp3 left behind: %v", mp3s)
	}
}

func TestRecorder_CallSIDCannotEscapeDir(t *testing.T) {
	t.Parallel()

	out := filepath.Join(t.TempDir(), "rec")
	r := recorder.New(recorder.Config{Dir: out}, "../../../escaped")
	r.Inbound(tone(8000, 20*time.Millisecond, 1))

	path, err := r.Save(context.Background())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Dir(path) != out {
		t.Errorf("recording written to %q, outside %q", path, out)
	}
	if !strings.HasPrefix(filepath.Base(path), "call__________escaped_") {
		t.Errorf("file name = %q", filepath.Base(path))
	}
}

func TestRecorder_HungFFmpegKeepsWAV(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("fake ffmpeg is a shell script")
	}

	dir := t.TempDir()
	fake := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(fake, []byte("#!/bin/sh\nexec sleep 30\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "out")
	r := recorder.New(recorder.Config{
		Dir:            out,
		Format:         recorder.FormatMP3,
		FFmpegPath:     fake,
		ConvertTimeout: 100 * time.Millisecond,
	}, "CA8")
	r.Inbound(tone(8000, 20*time.Millisecond, 1))

	started := time.Now()
	path, err := r.Save(context.Background())
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if elapsed := time.Since(started); elapsed > 10*time.Second {
		t.Errorf("Save took %v, want the conversion cut short", elapsed)
	}
	if filepath.Ext(path) != ".wav" {
		t.Errorf("path = %q, want wav fallback", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("wav missing: %v", err)
	}
}
