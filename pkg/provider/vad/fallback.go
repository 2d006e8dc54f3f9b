package vad

import (
	"fmt"
	"io"
	"log/slog"
)

// OpenWithFallback opens the preferred engine and checks that it can serve
// cfg by creating and closing one classifier. On any failure it logs once and
// returns fallback instead; fellBack reports which happened. Call it once at
// startup so calls never retry a broken backend.
func OpenWithFallback(method string, open func() (Engine, error), cfg Config, fallback Engine) (e Engine, fellBack bool) {
	e, err := tryOpen(open, cfg)
	if err == nil {
		return e, false
	}
	slog.Warn("vad backend unavailable, falling back",
		"method", method,
		"fallback", fallback.Name(),
		"err", err,
	)
	return fallback, true
}

func tryOpen(open func() (Engine, error), cfg Config) (Engine, error) {
	if open == nil {
		return nil, ErrBackendUnavailable
	}
	e, err := open()
	if err != nil {
		return nil, err
	}
	c, err := e.NewClassifier(cfg)
	if err != nil {
		if cl, ok := e.(io.Closer); ok {
			_ = cl.Close()
		}
		return nil, fmt.Errorf("vad: %s cannot serve %d Hz: %w", e.Name(), cfg.SampleRate, err)
	}
	if err := c.Close(); err != nil {
		return nil, err
	}
	return e, nil
}
