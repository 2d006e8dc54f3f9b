package transcript

import (
	"context"
	"errors"

	"github.com/MrWong99/telebridge/pkg/types"
)

type multiSink []Sink

// Multi returns a [Sink] that forwards every call to all sinks in order and
// joins their errors. Nil sinks are skipped.
func Multi(sinks ...Sink) Sink {
	var m multiSink
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	return m
}

func (m multiSink) Begin(ctx context.Context, call CallInfo) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Begin(ctx, call))
	}
	return errors.Join(errs...)
}

func (m multiSink) Append(ctx context.Context, entry types.TranscriptEntry) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Append(ctx, entry))
	}
	return errors.Join(errs...)
}

func (m multiSink) End(ctx context.Context, callSID string) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.End(ctx, callSID))
	}
	return errors.Join(errs...)
}
