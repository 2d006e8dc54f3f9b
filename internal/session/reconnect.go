package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrWong99/telebridge/pkg/provider/s2s"
)

// Default redial parameters.
const (
	defaultMaxRetries = 3
	defaultBackoff    = 250 * time.Millisecond
	defaultMaxBackoff = 2 * time.Second
)

// Redialer opens conversational-AI sessions and reopens them with
// exponential backoff when they drop while the phone call is still up.
//
// A caller on the line cannot wait long, so the defaults are a handful of
// quick attempts rather than a persistent reconnect loop.
type Redialer struct {
	provider   s2s.Provider
	cfg        s2s.SessionConfig
	maxRetries int
	backoff    time.Duration
	maxBackoff time.Duration
	onRedial   func(attempt int, err error)
}

// RedialerConfig configures a [Redialer].
type RedialerConfig struct {
	// Provider opens the sessions.
	Provider s2s.Provider

	// Session is passed to every Connect. FirstMessage is only sent on the
	// initial dial so the caller is not greeted twice.
	Session s2s.SessionConfig

	// MaxRetries is the maximum number of attempts per Dial or Redial.
	// Defaults to 3 if zero.
	MaxRetries int

	// Backoff is the initial wait between attempts. Doubles each attempt up to
	// MaxBackoff. Defaults to 250ms if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on backoff duration. Defaults to 2s if zero.
	MaxBackoff time.Duration

	// OnAttemptFailed is called after each failed attempt. May be nil.
	OnAttemptFailed func(attempt int, err error)
}

// NewRedialer creates a new [Redialer] with the given configuration.
func NewRedialer(cfg RedialerConfig) *Redialer {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return &Redialer{
		provider:   cfg.Provider,
		cfg:        cfg.Session,
		maxRetries: maxRetries,
		backoff:    backoff,
		maxBackoff: maxBackoff,
		onRedial:   cfg.OnAttemptFailed,
	}
}

// Dial opens the first session of a call.
func (r *Redialer) Dial(ctx context.Context) (s2s.SessionHandle, error) {
	return r.connect(ctx, r.cfg)
}

// Redial opens a replacement session after an unexpected drop. The greeting
// is not repeated.
func (r *Redialer) Redial(ctx context.Context) (s2s.SessionHandle, error) {
	cfg := r.cfg
	cfg.FirstMessage = ""
	return r.connect(ctx, cfg)
}

func (r *Redialer) connect(ctx context.Context, cfg s2s.SessionConfig) (s2s.SessionHandle, error) {
	currentBackoff := r.backoff
	var lastErr error

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		sess, err := r.provider.Connect(ctx, cfg)
		if err == nil {
			if attempt > 1 {
				slog.Info("s2s session connected after retry", "attempt", attempt)
			}
			return sess, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		slog.Warn("s2s connect attempt failed",
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"err", err,
		)
		if r.onRedial != nil {
			r.onRedial(attempt, err)
		}
		if attempt == r.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(currentBackoff):
		}
		currentBackoff = min(currentBackoff*2, r.maxBackoff)
	}

	return nil, fmt.Errorf("session: connect failed after %d attempts: %w", r.maxRetries, lastErr)
}
