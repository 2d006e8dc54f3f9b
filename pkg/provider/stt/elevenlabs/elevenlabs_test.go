package elevenlabs_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/telebridge/pkg/audio"
	"github.com/MrWong99/telebridge/pkg/provider/stt"
	"github.com/MrWong99/telebridge/pkg/provider/stt/elevenlabs"
)

func TestNew_EmptyKey(t *testing.T) {
	t.Parallel()
	if _, err := elevenlabs.New(""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	type request struct {
		path, key, model, lang, fileType string
		wav                              []byte
	}
	got := make(chan request, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req := request{
			path:  r.URL.Path,
			key:   r.Header.Get("xi-api-key"),
			model: r.FormValue("model_id"),
			lang:  r.FormValue("language_code"),
		}
		if f, hdr, err := r.FormFile("file"); err == nil {
			req.fileType = hdr.Header.Get("Content-Type")
			req.wav, _ = io.ReadAll(f)
			f.Close()
		}
		got <- req
		_, _ = io.WriteString(w, `{
			"language_code": "en",
			"language_probability": 0.98,
			"text": " Yes, I do. ",
			"words": [
				{"text": "Yes,", "start": 0.0, "end": 0.3, "type": "word"},
				{"text": " ", "start": 0.3, "end": 0.35, "type": "spacing"},
				{"text": "I", "start": 0.35, "end": 0.4, "type": "word"},
				{"text": "do.", "start": 0.45, "end": 0.7, "type": "word"}
			]
		}`)
	}))
	defer srv.Close()

	p, err := elevenlabs.New("xi-key", elevenlabs.WithBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	utt := audio.Silence(16000, 500*time.Millisecond)

	tr, err := p.Transcribe(context.Background(), utt, stt.Config{Language: "en"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "Yes, I do." {
		t.Errorf("Text = %q", tr.Text)
	}
	if tr.Language != "en" || tr.Confidence != 0.98 {
		t.Errorf("Language/Confidence = %q/%v", tr.Language, tr.Confidence)
	}
	if len(tr.Words) != 3 {
		t.Errorf("words = %d, want 3 (spacing dropped)", len(tr.Words))
	}

	req := <-got
	if req.path != "/v1/speech-to-text" {
		t.Errorf("path = %q", req.path)
	}
	if req.key != "xi-key" {
		t.Errorf("xi-api-key = %q", req.key)
	}
	if req.model != "scribe_v2" {
		t.Errorf("model_id = %q, want scribe_v2", req.model)
	}
	if req.lang != "en" {
		t.Errorf("language_code = %q", req.lang)
	}
	if req.fileType != "audio/wav" {
		t.Errorf("file content type = %q", req.fileType)
	}
	frame, err := audio.DecodeWAV(req.wav)
	if err != nil {
		t.Fatalf("uploaded file is not WAV: %v", err)
	}
	if frame.SampleCount() != 8000 {
		t.Errorf("uploaded %d samples, want 8000", frame.SampleCount())
	}
}

func TestTranscribe_HTTPError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"quota exceeded"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, _ := elevenlabs.New("k", elevenlabs.WithBaseURL(srv.URL))
	_, err := p.Transcribe(context.Background(), audio.Silence(16000, 20*time.Millisecond), stt.Config{})
	if err == nil {
		t.Fatal("expected error for HTTP 429")
	}
}

func TestTranscribe_EmptyAudio(t *testing.T) {
	t.Parallel()
	p, _ := elevenlabs.New("k")
	_, err := p.Transcribe(context.Background(), audio.AudioFrame{SampleRate: 16000}, stt.Config{})
	if !errors.Is(err, stt.ErrEmptyAudio) {
		t.Fatalf("err = %v, want ErrEmptyAudio", err)
	}
}
