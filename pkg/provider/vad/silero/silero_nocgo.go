//go:build !cgo

package silero

import (
	"fmt"

	"github.com/MrWong99/telebridge/pkg/provider/vad"
)

// Engine is unavailable without cgo.
type Engine struct{}

// New always fails with [vad.ErrBackendUnavailable] in builds without cgo.
func New(modelPath string, opts ...Option) (*Engine, error) {
	return nil, fmt.Errorf("%w: silero requires cgo (model %s)", vad.ErrBackendUnavailable, modelPath)
}

// Name implements [vad.Engine].
func (e *Engine) Name() string { return Name }

// NewClassifier implements [vad.Engine].
func (e *Engine) NewClassifier(vad.Config) (vad.Classifier, error) {
	return nil, vad.ErrBackendUnavailable
}

// Close is a no-op.
func (e *Engine) Close() error { return nil }
