// Package recorder captures both directions of a call and writes them to a
// single stereo file when the call ends: the caller on the left channel and
// the agent on the right.
//
// Recordings are written as WAV. When MP3 is requested the WAV is converted
// with ffmpeg and removed only once the conversion succeeded, so a missing
// or failing ffmpeg never loses a recording.
package recorder

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/telebridge/pkg/audio"
	"github.com/MrWong99/telebridge/pkg/transport/twilio"
)

// Container formats.
const (
	FormatWAV = "wav"
	FormatMP3 = "mp3"
)

// alignTolerance is how far the agent track may lag the caller track before
// the gap is filled with silence. Smaller lags are pacing jitter.
const alignTolerance = 100 * time.Millisecond

// DefaultConvertTimeout bounds one ffmpeg run.
const DefaultConvertTimeout = time.Minute

// ErrEmpty is returned by [Recorder.Save] when no audio was captured.
var ErrEmpty = errors.New("recorder: nothing recorded")

// Config configures a [Recorder].
type Config struct {
	// Dir is the output directory. Created on save.
	Dir string

	// Format is FormatWAV or FormatMP3. Empty means WAV.
	Format string

	// FFmpegPath is the ffmpeg binary used for MP3. Empty searches PATH.
	FFmpegPath string

	// ConvertTimeout bounds the MP3 conversion. A conversion that runs
	// longer is killed and the WAV is kept. Defaults to
	// [DefaultConvertTimeout].
	ConvertTimeout time.Duration

	// SampleRate of the recording. Frames at other rates are resampled.
	// Defaults to [audio.TelephonyRate].
	SampleRate int
}

// Recorder buffers one call. It is safe for concurrent use: the inbound
// and outbound pumps write to it from different goroutines.
type Recorder struct {
	cfg     Config
	callSID string

	mu       sync.Mutex
	inbound  []byte
	outbound []byte
}

// New returns a recorder for callSID.
func New(cfg Config, callSID string) *Recorder {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = audio.TelephonyRate
	}
	if cfg.Format == "" {
		cfg.Format = FormatWAV
	}
	if cfg.ConvertTimeout <= 0 {
		cfg.ConvertTimeout = DefaultConvertTimeout
	}
	return &Recorder{cfg: cfg, callSID: callSID}
}

// Inbound appends caller audio.
func (r *Recorder) Inbound(f audio.AudioFrame) {
	pcm := r.normalise(f)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inbound = append(r.inbound, pcm...)
}

// Outbound appends agent audio. When the agent starts speaking after a pause
// its track is first padded with silence up to the caller's track, keeping
// the two channels roughly aligned in time.
func (r *Recorder) Outbound(f audio.AudioFrame) {
	pcm := r.normalise(f)
	r.mu.Lock()
	defer r.mu.Unlock()
	tolerance := bytesFor(r.cfg.SampleRate, alignTolerance)
	if gap := len(r.inbound) - len(r.outbound); gap > tolerance {
		r.outbound = append(r.outbound, make([]byte, gap)...)
	}
	r.outbound = append(r.outbound, pcm...)
}

// Duration returns the length of the longer track.
func (r *Recorder) Duration() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := max(len(r.inbound), len(r.outbound)) / 2
	return time.Duration(n) * time.Second / time.Duration(r.cfg.SampleRate)
}

// Save writes the recording and returns the path of the final file. The
// buffers are released afterwards; a second Save returns [ErrEmpty].
func (r *Recorder) Save(ctx context.Context) (string, error) {
	r.mu.Lock()
	in, out := r.inbound, r.outbound
	r.inbound, r.outbound = nil, nil
	r.mu.Unlock()

	if len(in) == 0 && len(out) == 0 {
		return "", ErrEmpty
	}
	if err := os.MkdirAll(r.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("recorder: create dir: %w", err)
	}

	base := filepath.Join(r.cfg.Dir, fmt.Sprintf("call_%s_%s", twilio.FileSafe(r.callSID), uuid.NewString()[:8]))
	wavPath := base + ".wav"
	frame := audio.AudioFrame{Data: interleave(in, out), SampleRate: r.cfg.SampleRate, Channels: 2}
	if err := os.WriteFile(wavPath, audio.EncodeWAV(frame), 0o644); err != nil {
		return "", fmt.Errorf("recorder: write wav: %w", err)
	}
	if r.cfg.Format != FormatMP3 {
		return wavPath, nil
	}

	mp3Path := base + ".mp3"
	if err := r.convert(ctx, wavPath, mp3Path); err != nil {
		slog.Warn("recorder: mp3 conversion failed, keeping wav",
			"call_sid", r.callSID,
			"path", wavPath,
			"err", err,
		)
		return wavPath, nil
	}
	if err := os.Remove(wavPath); err != nil {
		slog.Warn("recorder: remove intermediate wav", "path", wavPath, "err", err)
	}
	return mp3Path, nil
}

func (r *Recorder) convert(ctx context.Context, wavPath, mp3Path string) error {
	bin := r.cfg.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return fmt.Errorf("ffmpeg not available: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ConvertTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, path, "-y", "-i", wavPath, "-codec:a", "libmp3lame", mp3Path)
	// Children of a killed ffmpeg may hold its output open.
	cmd.WaitDelay = time.Second
	if out, err := cmd.CombinedOutput(); err != nil {
		os.Remove(mp3Path)
		return fmt.Errorf("ffmpeg: %w: %s", err, tail(out))
	}
	if _, err := os.Stat(mp3Path); err != nil {
		return fmt.Errorf("ffmpeg produced no output: %w", err)
	}
	return nil
}

// normalise returns mono PCM at the recording rate.
func (r *Recorder) normalise(f audio.AudioFrame) []byte {
	return audio.Normalize(f, r.cfg.SampleRate).Data
}

// interleave builds stereo PCM from two mono tracks, padding the shorter one
// with silence.
func interleave(left, right []byte) []byte {
	n := max(len(left), len(right)) / 2
	out := make([]byte, n*4)
	for i := range n {
		if 2*i+1 < len(left) {
			binary.LittleEndian.PutUint16(out[4*i:], binary.LittleEndian.Uint16(left[2*i:]))
		}
		if 2*i+1 < len(right) {
			binary.LittleEndian.PutUint16(out[4*i+2:], binary.LittleEndian.Uint16(right[2*i:]))
		}
	}
	return out
}

func bytesFor(rate int, d time.Duration) int {
	return int(int64(rate)*int64(d)/int64(time.Second)) * 2
}

func tail(b []byte) string {
	const limit = 200
	if len(b) > limit {
		b = b[len(b)-limit:]
	}
	return string(b)
}
