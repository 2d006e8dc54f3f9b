//go:build !cgo

package webrtc

import (
	"fmt"

	"github.com/MrWong99/telebridge/pkg/provider/vad"
)

// Engine is unavailable without cgo.
type Engine struct{}

// New always fails with [vad.ErrBackendUnavailable] in builds without cgo.
func New(opts ...Option) (*Engine, error) {
	if _, err := newOptions(opts); err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: webrtc requires cgo", vad.ErrBackendUnavailable)
}

// Name implements [vad.Engine].
func (e *Engine) Name() string { return Name }

// NewClassifier implements [vad.Engine].
func (e *Engine) NewClassifier(vad.Config) (vad.Classifier, error) {
	return nil, vad.ErrBackendUnavailable
}
