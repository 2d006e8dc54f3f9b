// Package resilience keeps a call talking when one of its AI backends fails.
//
// [CircuitBreaker] stops a dead STT, LLM or TTS backend from adding its full
// timeout to every caller turn: after enough consecutive failures it rejects
// requests outright, then lets a few trials through once a cool-down has
// passed. [FallbackGroup] puts several interchangeable backends behind one
// breaker each and serves every request from the first healthy one.
//
// A caller hanging up cancels the call's context. Such cancellations say
// nothing about a backend's health and never count as failures.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects requests.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every request.
	StateClosed State = iota
	// StateOpen rejects every request until the reset timeout has passed.
	StateOpen
	// StateHalfOpen admits a limited number of trial requests. Enough
	// successful trials close the breaker; one failed trial re-opens it.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values get defaults.
type CircuitBreakerConfig struct {
	// Name labels log lines and state change callbacks.
	Name string

	// MaxFailures consecutive failures open the breaker. Default 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the trial budget in the half-open state, and the number
	// of successful trials needed to close again. Default 3.
	HalfOpenMax int

	// OnStateChange runs after every transition, outside the breaker's lock.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker is a three-state breaker guarding one backend.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int       // consecutive, while closed
	openedAt time.Time // last transition to open
	trials   int       // admitted while half-open, including in-flight ones
	trialOK  int
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{cfg: cfg, now: time.Now}
}

// Name returns the label the breaker was created with.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute runs fn unless the breaker rejects it with [ErrCircuitOpen]. fn's
// error is returned unchanged. Errors wrapping [context.Canceled] leave the
// failure accounting untouched and hand a trial slot back.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	trial, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.settle(trial, err)
	return err
}

// admit decides whether a request may run and reports whether it is a
// half-open trial.
func (cb *CircuitBreaker) admit() (trial bool, err error) {
	cb.mu.Lock()
	from := cb.state
	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		cb.state, cb.trials, cb.trialOK = StateHalfOpen, 0, 0
		slog.Info("circuit breaker half-open, probing", "name", cb.cfg.Name)
	}
	if cb.state == StateHalfOpen {
		if cb.trials >= cb.cfg.HalfOpenMax {
			cb.mu.Unlock()
			return false, ErrCircuitOpen
		}
		cb.trials++
		trial = true
	}
	to := cb.state
	cb.mu.Unlock()
	cb.changed(from, to)
	return trial, nil
}

func (cb *CircuitBreaker) settle(trial bool, err error) {
	cb.mu.Lock()
	from := cb.state
	switch {
	case errors.Is(err, context.Canceled):
		if trial && cb.state == StateHalfOpen {
			cb.trials--
		}
	case err != nil:
		cb.fail(trial)
	case trial:
		cb.trialOK++
		if cb.state == StateHalfOpen && cb.trialOK >= cb.cfg.HalfOpenMax {
			cb.state, cb.failures = StateClosed, 0
			slog.Info("circuit breaker closed", "name", cb.cfg.Name)
		}
	default:
		cb.failures = 0
	}
	to := cb.state
	cb.mu.Unlock()
	cb.changed(from, to)
}

// fail records a failure. cb.mu must be held.
func (cb *CircuitBreaker) fail(trial bool) {
	if trial {
		if cb.state == StateHalfOpen {
			cb.state, cb.openedAt = StateOpen, cb.now()
			slog.Warn("circuit breaker re-opened, trial failed", "name", cb.cfg.Name)
		}
		return
	}
	cb.failures++
	if cb.state == StateClosed && cb.failures >= cb.cfg.MaxFailures {
		cb.state, cb.openedAt = StateOpen, cb.now()
		slog.Warn("circuit breaker opened", "name", cb.cfg.Name, "consecutive_failures", cb.failures)
	}
}

func (cb *CircuitBreaker) changed(from, to State) {
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}

// State returns the breaker's state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker closed and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state, cb.failures, cb.trials, cb.trialOK = StateClosed, 0, 0, 0
	cb.mu.Unlock()
	slog.Info("circuit breaker reset", "name", cb.cfg.Name)
	cb.changed(from, StateClosed)
}
