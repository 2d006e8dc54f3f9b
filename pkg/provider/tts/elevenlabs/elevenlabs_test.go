package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/MrWong99/telebridge/pkg/provider/tts"
)

// ---- output format parsing ----

func TestParseOutputFormat(t *testing.T) {
	tests := []struct {
		in      string
		codec   string
		rate    int
		wantErr bool
	}{
		{"pcm_16000", "pcm", 16000, false},
		{"pcm_24000", "pcm", 24000, false},
		{"mp3_44100_128", "mp3", 44100, false},
		{"ulaw_8000", "", 0, true},
		{"pcm", "", 0, true},
		{"pcm_fast", "", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			codec, rate, err := parseOutputFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if codec != tt.codec || rate != tt.rate {
				t.Errorf("got %q/%d, want %q/%d", codec, rate, tt.codec, tt.rate)
			}
		})
	}
}

// ---- constructor ----

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_BadOutputFormat(t *testing.T) {
	if _, err := New("key", WithOutputFormat("opus_48000")); err == nil {
		t.Error("expected error for unsupported output format")
	}
}

// ---- synthesis ----

func TestSynthesize_PCM(t *testing.T) {
	var (
		path, format, key string
		body              synthesisRequest
	)
	pcm := []byte{1, 0, 2, 0, 3, 0, 4, 0, 9} // odd trailing byte is dropped
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		format = r.URL.Query().Get("output_format")
		key = r.Header.Get("xi-api-key")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		_, _ = w.Write(pcm)
	}))
	defer srv.Close()

	p, err := New("xi-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	frame, err := p.Synthesize(context.Background(), "Hello! Do you have a moment?", tts.VoiceProfile{SpeedFactor: 1.1})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if path != "/v1/text-to-speech/"+DefaultVoiceID {
		t.Errorf("path = %q", path)
	}
	if format != "pcm_16000" || key != "xi-key" {
		t.Errorf("format/key = %q/%q", format, key)
	}
	if body.ModelID != defaultModel || body.Text != "Hello! Do you have a moment?" {
		t.Errorf("body = %+v", body)
	}
	if body.VoiceSettings.Stability != 0.5 || body.VoiceSettings.SimilarityBoost != 0.75 {
		t.Errorf("voice settings = %+v", body.VoiceSettings)
	}
	if body.VoiceSettings.Speed == nil || *body.VoiceSettings.Speed != 1.1 {
		t.Errorf("speed = %v", body.VoiceSettings.Speed)
	}
	if frame.SampleRate != 16000 || frame.Channels != 1 || len(frame.Data) != 8 {
		t.Errorf("frame = %d Hz, %d ch, %d bytes", frame.SampleRate, frame.Channels, len(frame.Data))
	}
}

func TestSynthesize_VoiceID(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_, _ = w.Write([]byte{0, 0})
	}))
	defer srv.Close()

	p, _ := New("k", WithBaseURL(srv.URL), WithOutputFormat("pcm_24000"))
	frame, err := p.Synthesize(context.Background(), "hi", tts.VoiceProfile{ID: "voice-123"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if path != "/v1/text-to-speech/voice-123" {
		t.Errorf("path = %q", path)
	}
	if frame.SampleRate != 24000 {
		t.Errorf("SampleRate = %d", frame.SampleRate)
	}
}

func TestSynthesize_MP3Garbage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("definitely not an mp3 stream"))
	}))
	defer srv.Close()

	p, _ := New("k", WithBaseURL(srv.URL), WithOutputFormat("mp3_44100_128"))
	if _, err := p.Synthesize(context.Background(), "hi", tts.VoiceProfile{}); err == nil {
		t.Fatal("expected decode error for invalid MP3 data")
	}
}

func TestSynthesize_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"voice not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	p, _ := New("k", WithBaseURL(srv.URL))
	if _, err := p.Synthesize(context.Background(), "hi", tts.VoiceProfile{}); err == nil {
		t.Fatal("expected error for HTTP 404")
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	p, _ := New("k")
	if _, err := p.Synthesize(context.Background(), "   ", tts.VoiceProfile{}); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("err = %v, want ErrEmptyText", err)
	}
}
