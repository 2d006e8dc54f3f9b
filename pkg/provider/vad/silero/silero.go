// Package silero implements the model-based VAD strategy: the Silero VAD v5
// network evaluated with ONNX Runtime (github.com/yalue/onnxruntime_go).
//
// The model takes exactly 512 samples at 16 kHz (256 at 8 kHz) per call,
// prefixed with the last 64 (32) samples of the previous frame, and carries a
// recurrent state between calls. The loaded model is shared by all calls;
// each [vad.Classifier] holds its own state and context.
//
// The backend requires cgo and the ONNX Runtime shared library. Without them,
// [New] returns [vad.ErrBackendUnavailable].
package silero

import (
	"fmt"

	"github.com/MrWong99/telebridge/pkg/provider/vad"
)

// Name is the strategy name reported by the engine.
const Name = "silero"

const (
	stateSize = 2 * 1 * 128
)

// geometry describes the model input for one sample rate.
type geometry struct {
	frame   int // samples per call
	context int // samples carried over from the previous call
}

func geometryFor(rate int) (geometry, error) {
	switch rate {
	case 16000:
		return geometry{frame: 512, context: 64}, nil
	case 8000:
		return geometry{frame: 256, context: 32}, nil
	default:
		return geometry{}, fmt.Errorf("%w: silero supports 8 and 16 kHz, got %d Hz", vad.ErrFrameSize, rate)
	}
}

// Option configures an engine.
type Option func(*options)

type options struct {
	libraryPath string
}

// WithLibraryPath sets the path of the ONNX Runtime shared library. If unset,
// the platform default search path is used.
func WithLibraryPath(path string) Option {
	return func(o *options) {
		o.libraryPath = path
	}
}

// pcmToFloat converts little-endian 16-bit PCM into dst, normalised to [-1, 1).
func pcmToFloat(dst []float32, pcm []byte) {
	for i := range dst {
		dst[i] = float32(int16(uint16(pcm[2*i])|uint16(pcm[2*i+1])<<8)) / 32768
	}
}
