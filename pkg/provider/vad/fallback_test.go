package vad_test

import (
	"testing"

	"github.com/MrWong99/telebridge/pkg/provider/vad"
	"github.com/MrWong99/telebridge/pkg/provider/vad/mock"
)

func TestOpenWithFallback(t *testing.T) {
	t.Parallel()

	fallback := &mock.Engine{NameValue: "energy"}
	preferred := &mock.Engine{NameValue: "silero"}

	tests := []struct {
		name         string
		open         func() (vad.Engine, error)
		wantName     string
		wantFellBack bool
	}{
		{
			name:     "preferred loads",
			open:     func() (vad.Engine, error) { return preferred, nil },
			wantName: "silero",
		},
		{
			name:         "backend unavailable",
			open:         func() (vad.Engine, error) { return nil, vad.ErrBackendUnavailable },
			wantName:     "energy",
			wantFellBack: true,
		},
		{
			name: "cannot serve sample rate",
			open: func() (vad.Engine, error) {
				return &mock.Engine{NameValue: "webrtc", NewClassifierErr: vad.ErrFrameSize}, nil
			},
			wantName:     "energy",
			wantFellBack: true,
		},
		{
			name:         "no opener",
			wantName:     "energy",
			wantFellBack: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e, fellBack := vad.OpenWithFallback("test", tt.open, testConfig(), fallback)
			if e.Name() != tt.wantName || fellBack != tt.wantFellBack {
				t.Errorf("got %s (fellBack=%v), want %s (fellBack=%v)", e.Name(), fellBack, tt.wantName, tt.wantFellBack)
			}
		})
	}
}

func TestOpenWithFallback_ProbesOnce(t *testing.T) {
	t.Parallel()

	opens := 0
	preferred := &mock.Engine{}
	e, _ := vad.OpenWithFallback("mock", func() (vad.Engine, error) {
		opens++
		return preferred, nil
	}, testConfig(), &mock.Engine{})
	if opens != 1 || preferred.Calls() != 1 {
		t.Errorf("opens = %d, classifiers = %d; want 1, 1", opens, preferred.Calls())
	}
	if e != vad.Engine(preferred) {
		t.Error("did not return the preferred engine")
	}
}
