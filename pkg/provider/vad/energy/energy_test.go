package energy_test

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/MrWong99/telebridge/pkg/audio"
	"github.com/MrWong99/telebridge/pkg/provider/vad"
	"github.com/MrWong99/telebridge/pkg/provider/vad/energy"
)

// level returns 20 ms at 16 kHz of a square wave whose RMS is rms (full scale 1).
func level(rms float64) []byte {
	amp := int16(math.Round(rms * 32768))
	buf := make([]byte, 640)
	for i := range 320 {
		s := amp
		if i%2 == 1 {
			s = -amp
		}
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(s))
	}
	return buf
}

func newClassifier(t *testing.T, opts ...energy.Option) vad.Classifier {
	t.Helper()
	c, err := energy.New(opts...).NewClassifier(vad.Config{SampleRate: 16000, Threshold: 0.5})
	if err != nil {
		t.Fatalf("NewClassifier: %v", err)
	}
	return c
}

func prob(t *testing.T, c vad.Classifier, frame []byte) float64 {
	t.Helper()
	p, err := c.Probability(frame)
	if err != nil {
		t.Fatalf("Probability: %v", err)
	}
	return p
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := energy.RMS(level(0.25)); math.Abs(got-0.25) > 1e-4 {
		t.Errorf("RMS = %v, want 0.25", got)
	}
	if got := energy.RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v", got)
	}
}

func TestClassifier_WarmupUsesFixedThreshold(t *testing.T) {
	t.Parallel()

	c := newClassifier(t)
	if p := prob(t, c, level(0.005)); p != 0 {
		t.Errorf("quiet frame during warm-up = %v, want 0", p)
	}
	if p := prob(t, c, level(0.02)); p != 1 {
		t.Errorf("loud frame during warm-up = %v, want 1", p)
	}
	if thr := c.(vad.ThresholdReporter).CurrentThreshold(); thr != energy.DefaultFallbackThreshold {
		t.Errorf("threshold during warm-up = %v", thr)
	}
}

func TestClassifier_AdaptiveBaseline(t *testing.T) {
	t.Parallel()

	c := newClassifier(t)
	// A noisy line around 0.02 would trip the fixed threshold, but not the
	// adaptive one once the baseline has formed.
	levels := []float64{0.020, 0.023, 0.024}
	for i := range 50 {
		noise := levels[i%3]
		p := prob(t, c, level(noise))
		if i >= energy.DefaultWarmupFrames && p != 0 {
			t.Fatalf("noise frame %d classified as speech", i)
		}
	}
	if p := prob(t, c, level(0.3)); p != 1 {
		t.Error("speech over noise floor not detected")
	}
	thr := c.(vad.ThresholdReporter).CurrentThreshold()
	if thr <= 0.02 || thr >= 0.3 {
		t.Errorf("adaptive threshold = %v, want between noise and speech", thr)
	}
}

func TestClassifier_HistoryIsBounded(t *testing.T) {
	t.Parallel()

	c := newClassifier(t, energy.WithHistorySize(10), energy.WithWarmupFrames(5))
	for range 10 {
		prob(t, c, level(0.5))
	}
	// After ten quiet frames the loud ones have left the window entirely.
	for range 10 {
		prob(t, c, level(0.01))
	}
	if thr := c.(vad.ThresholdReporter).CurrentThreshold(); math.Abs(thr-0.01) > 1e-3 {
		t.Errorf("threshold = %v, want ~0.01 once loud frames aged out", thr)
	}
}

func TestClassifier_ResetHistory(t *testing.T) {
	t.Parallel()

	c := newClassifier(t)
	for range 20 {
		prob(t, c, level(0.2))
	}
	c.ResetHistory()
	if thr := c.(vad.ThresholdReporter).CurrentThreshold(); thr != energy.DefaultFallbackThreshold {
		t.Errorf("threshold after reset = %v", thr)
	}
	if p := prob(t, c, level(0.2)); p != 1 {
		t.Error("after reset the fixed threshold should apply again")
	}
}

func TestClassifier_AnyFrameLength(t *testing.T) {
	t.Parallel()

	c := newClassifier(t)
	if c.FrameSamples() != 0 {
		t.Errorf("FrameSamples = %d, want 0", c.FrameSamples())
	}
	if p := prob(t, c, level(0.5)[:6]); p != 1 {
		t.Error("three-sample frame not classified")
	}
	if p := prob(t, c, nil); p != 0 {
		t.Error("empty frame should be silence")
	}
}

func TestEnergy_DetectsUtterance(t *testing.T) {
	t.Parallel()

	cfg := vad.Config{
		SampleRate:         16000,
		Threshold:          0.5,
		MinSpeechDuration:  250 * time.Millisecond,
		MinSilenceDuration: 500 * time.Millisecond,
	}
	d, err := vad.NewSession(energy.New(), cfg)
	if err != nil {
		t.Fatal(err)
	}

	frame := func(rms float64) audio.AudioFrame {
		return audio.AudioFrame{Data: level(rms), SampleRate: 16000, Channels: 1}
	}

	var startAt, endAt int
	step := func(i int, rms float64) {
		ev, err := d.ProcessChunk(frame(rms))
		if err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		switch ev.Type {
		case vad.VADSpeechStart:
			startAt = i
		case vad.VADSpeechEnd:
			endAt = i
		}
	}

	i := 1
	for ; i <= 50; i++ {
		step(i, 0.001)
	}
	for ; i <= 80; i++ {
		step(i, 0.3)
	}
	for ; i <= 105; i++ {
		step(i, 0.001)
	}

	if startAt != 63 {
		t.Errorf("speech confirmed at chunk %d, want 63", startAt)
	}
	// The baseline adapts to sustained speech, so the end may come before
	// the true silence has lasted 500 ms, but never before speech started
	// and never later than the last chunk.
	if endAt <= startAt || endAt > 105 {
		t.Errorf("speech ended at chunk %d", endAt)
	}
}
