package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrAllFailed is returned when every member of a [FallbackGroup] failed or
// was skipped by its open breaker.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each member's breaker; Name is
	// filled in per member.
	CircuitBreaker CircuitBreakerConfig

	// AttemptTimeout bounds a single member's attempt so a hung primary still
	// leaves the caller time for a fallback. Zero leaves attempts bounded
	// only by the caller's context.
	AttemptTimeout time.Duration
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup is an ordered list of interchangeable providers, each behind
// its own circuit breaker. The first member is the primary. Members are
// added during startup only; [Call] and [FallbackGroup.Status] are safe for
// concurrent use afterwards.
type FallbackGroup[T any] struct {
	members []member[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a group whose primary is p.
func NewFallbackGroup[T any](p T, name string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.AddFallback(name, p)
	return g
}

// AddFallback appends a member tried after all earlier ones.
func (g *FallbackGroup[T]) AddFallback(name string, p T) {
	bc := g.cfg.CircuitBreaker
	bc.Name = name
	g.members = append(g.members, member[T]{name: name, value: p, breaker: NewCircuitBreaker(bc)})
}

// Primary returns the first member.
func (g *FallbackGroup[T]) Primary() T { return g.members[0].value }

// ProviderStatus is a snapshot of one member's breaker.
type ProviderStatus struct {
	Name  string
	State State
}

// Status returns every member's breaker state in order.
func (g *FallbackGroup[T]) Status() []ProviderStatus {
	out := make([]ProviderStatus, 0, len(g.members))
	for _, m := range g.members {
		out = append(out, ProviderStatus{Name: m.name, State: m.breaker.State()})
	}
	return out
}

// Call runs fn against the members in order until one succeeds. fn gets the
// attempt's context and whether the member is the primary. Members with an
// open breaker are skipped. When the caller's context ends, or fn reports
// cancellation, the walk stops and that error is returned as is: a caller
// who hung up needs no fallback.
func Call[T, R any](ctx context.Context, g *FallbackGroup[T], fn func(ctx context.Context, p T, primary bool) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i := range g.members {
		m := &g.members[i]
		var out R
		err := m.breaker.Execute(func() error {
			actx, cancel := g.attemptContext(ctx)
			defer cancel()
			var err error
			out, err = fn(actx, m.value, i == 0)
			return err
		})
		switch {
		case err == nil:
			if i > 0 {
				slog.Info("fallback provider served request", "provider", m.name)
			}
			return out, nil
		case ctx.Err() != nil:
			return zero, ctx.Err()
		case errors.Is(err, context.Canceled):
			return zero, err
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("provider skipped, circuit open", "provider", m.name)
		default:
			slog.Warn("provider failed, trying next", "provider", m.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

func (g *FallbackGroup[T]) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.cfg.AttemptTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, g.cfg.AttemptTimeout)
}
