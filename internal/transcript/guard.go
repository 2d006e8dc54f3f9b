package transcript

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/MrWong99/telebridge/pkg/types"
)

// Guard wraps a [Sink] and makes all operations non-fatal. Failures are
// logged and swallowed, and the guard reports itself degraded until the next
// successful operation. A call keeps going while the transcript database
// restarts.
//
// Guard is safe for concurrent use.
type Guard struct {
	name     string
	sink     Sink
	degraded atomic.Bool
}

var _ Sink = (*Guard)(nil)

// NewGuard wraps sink. name identifies it in logs and health checks.
func NewGuard(name string, sink Sink) *Guard {
	return &Guard{name: name, sink: sink}
}

// Name returns the name given to [NewGuard].
func (g *Guard) Name() string { return g.name }

// Begin implements [Sink]. It always returns nil.
func (g *Guard) Begin(ctx context.Context, call CallInfo) error {
	g.observe("Begin", call.CallSID, g.sink.Begin(ctx, call))
	return nil
}

// Append implements [Sink]. It always returns nil.
func (g *Guard) Append(ctx context.Context, entry types.TranscriptEntry) error {
	g.observe("Append", entry.CallSID, g.sink.Append(ctx, entry))
	return nil
}

// End implements [Sink]. It always returns nil.
func (g *Guard) End(ctx context.Context, callSID string) error {
	g.observe("End", callSID, g.sink.End(ctx, callSID))
	return nil
}

// IsDegraded reports whether the last operation on the wrapped sink failed.
func (g *Guard) IsDegraded() bool {
	return g.degraded.Load()
}

// Status returns "degraded" or "ok" for health reporting.
func (g *Guard) Status() string {
	if g.IsDegraded() {
		return "degraded"
	}
	return "ok"
}

func (g *Guard) observe(op, callSID string, err error) {
	if err == nil {
		g.degraded.Store(false)
		return
	}
	g.degraded.Store(true)
	slog.Warn("transcript guard: "+op+" failed, swallowing error",
		"sink", g.name,
		"call_sid", callSID,
		"err", err,
	)
}
