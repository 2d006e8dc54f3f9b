//go:build cgo

package silero

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/MrWong99/telebridge/pkg/provider/vad"
)

// Compile-time interface assertions.
var (
	_ vad.Engine     = (*Engine)(nil)
	_ vad.Classifier = (*Classifier)(nil)
)

var (
	inputNames  = []string{"input", "state", "sr"}
	outputNames = []string{"output", "stateN"}

	envMu sync.Mutex
)

// Engine holds the loaded model. It is safe for concurrent use.
type Engine struct {
	session *ort.DynamicAdvancedSession
}

// New loads the Silero model from modelPath.
func New(modelPath string, opts ...Option) (*Engine, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	envMu.Lock()
	if !ort.IsInitialized() {
		if o.libraryPath != "" {
			ort.SetSharedLibraryPath(o.libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			envMu.Unlock()
			return nil, fmt.Errorf("%w: onnxruntime: %v", vad.ErrBackendUnavailable, err)
		}
	}
	envMu.Unlock()

	sess, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", vad.ErrBackendUnavailable, modelPath, err)
	}
	return &Engine{session: sess}, nil
}

// Name implements [vad.Engine].
func (e *Engine) Name() string { return Name }

// NewClassifier implements [vad.Engine].
func (e *Engine) NewClassifier(cfg vad.Config) (vad.Classifier, error) {
	g, err := geometryFor(cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	return &Classifier{
		session: e.session,
		rate:    int64(cfg.SampleRate),
		g:       g,
		input:   make([]float32, g.context+g.frame),
		state:   make([]float32, stateSize),
	}, nil
}

// Close releases the model.
func (e *Engine) Close() error {
	return e.session.Destroy()
}

// Classifier is one stream's recurrent model state.
type Classifier struct {
	session *ort.DynamicAdvancedSession
	rate    int64
	g       geometry

	input []float32 // context followed by the current frame
	state []float32
}

// Probability implements [vad.Classifier].
func (c *Classifier) Probability(frame []byte) (float64, error) {
	if len(frame) != 2*c.g.frame {
		return 0, fmt.Errorf("%w: silero needs %d samples, got %d bytes", vad.ErrFrameSize, c.g.frame, len(frame))
	}
	pcmToFloat(c.input[c.g.context:], frame)

	input, err := ort.NewTensor(ort.NewShape(1, int64(len(c.input))), c.input)
	if err != nil {
		return 0, fmt.Errorf("silero: input tensor: %w", err)
	}
	defer input.Destroy()
	state, err := ort.NewTensor(ort.NewShape(2, 1, 128), c.state)
	if err != nil {
		return 0, fmt.Errorf("silero: state tensor: %w", err)
	}
	defer state.Destroy()
	sr, err := ort.NewTensor(ort.NewShape(1), []int64{c.rate})
	if err != nil {
		return 0, fmt.Errorf("silero: sr tensor: %w", err)
	}
	defer sr.Destroy()

	out, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return 0, fmt.Errorf("silero: output tensor: %w", err)
	}
	defer out.Destroy()
	stateN, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128))
	if err != nil {
		return 0, fmt.Errorf("silero: state output tensor: %w", err)
	}
	defer stateN.Destroy()

	if err := c.session.Run([]ort.Value{input, state, sr}, []ort.Value{out, stateN}); err != nil {
		return 0, fmt.Errorf("silero: run: %w", err)
	}

	copy(c.state, stateN.GetData())
	copy(c.input, c.input[len(c.input)-c.g.context:])
	prob := out.GetData()
	if len(prob) == 0 {
		return 0, errors.New("silero: empty model output")
	}
	return float64(prob[0]), nil
}

// FrameSamples implements [vad.Classifier].
func (c *Classifier) FrameSamples() int { return c.g.frame }

// ResetHistory implements [vad.Classifier] by zeroing the recurrent state and
// the carried-over context.
func (c *Classifier) ResetHistory() {
	clear(c.state)
	clear(c.input)
}

// Close implements [vad.Classifier]. The shared model is owned by the engine.
func (c *Classifier) Close() error { return nil }
