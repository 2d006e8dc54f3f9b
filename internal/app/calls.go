package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"
)

// ErrAtCapacity is returned by [CallManager.Start] when the call limit is
// reached.
var ErrAtCapacity = errors.New("app: call limit reached")

// CallInfo holds metadata about an active call.
type CallInfo struct {
	// CallSID is the Twilio call identifier.
	CallSID string `json:"call_sid"`

	// StreamSID is the Twilio media stream identifier.
	StreamSID string `json:"stream_sid"`

	// Mode is the bridge serving the call: "cascade" or "convai".
	Mode string `json:"mode"`

	// From is the caller's number when Twilio passed it on.
	From string `json:"from,omitempty"`

	// StartedAt is when the media stream started.
	StartedAt time.Time `json:"started_at"`
}

// CallManager tracks the calls in progress.
// All exported methods are safe for concurrent use.
type CallManager struct {
	maxCalls int

	mu    sync.Mutex
	calls map[string]*activeCall

	// wg counts running calls so shutdown can wait for them.
	wg sync.WaitGroup
}

type activeCall struct {
	info   CallInfo
	cancel context.CancelFunc
}

// NewCallManager returns a manager that admits at most maxCalls concurrent
// calls. Zero means no limit.
func NewCallManager(maxCalls int) *CallManager {
	return &CallManager{
		maxCalls: maxCalls,
		calls:    make(map[string]*activeCall),
	}
}

// Start registers a call. The returned context is cancelled by
// [CallManager.HangUpAll]; end must be called exactly once when the call is
// over.
//
// Returns an error if a call with the same SID is already active or the
// limit is reached.
func (m *CallManager) Start(ctx context.Context, info CallInfo) (callCtx context.Context, end func(), err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, dup := m.calls[info.CallSID]; dup {
		return nil, nil, fmt.Errorf("app: call %s is already active", info.CallSID)
	}
	if m.maxCalls > 0 && len(m.calls) >= m.maxCalls {
		return nil, nil, fmt.Errorf("%w (%d active)", ErrAtCapacity, len(m.calls))
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now().UTC()
	}

	callCtx, cancel := context.WithCancel(ctx)
	c := &activeCall{info: info, cancel: cancel}
	m.calls[info.CallSID] = c
	m.wg.Add(1)

	var once sync.Once
	end = func() {
		once.Do(func() {
			cancel()
			m.mu.Lock()
			if m.calls[info.CallSID] == c {
				delete(m.calls, info.CallSID)
			}
			m.mu.Unlock()
			m.wg.Done()
		})
	}
	return callCtx, end, nil
}

// Active returns the calls in progress, oldest first.
func (m *CallManager) Active() []CallInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CallInfo, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, c.info)
	}
	slices.SortFunc(out, func(a, b CallInfo) int {
		return cmp.Or(a.StartedAt.Compare(b.StartedAt), cmp.Compare(a.CallSID, b.CallSID))
	})
	return out
}

// Count returns the number of calls in progress.
func (m *CallManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// HangUpAll cancels every active call. Each call ends its media stream and
// releases its resources on its own goroutine; use [CallManager.Wait] to
// wait for that.
func (m *CallManager) HangUpAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sid := range slices.Sorted(maps.Keys(m.calls)) {
		slog.Info("hanging up call", "call_sid", sid)
		m.calls[sid].cancel()
	}
}

// Wait blocks until no call is active or ctx is done.
func (m *CallManager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// capacityCheck fails readiness while every call slot is taken so a load
// balancer sends new calls to another bridge.
func (m *CallManager) capacityCheck(context.Context) error {
	if n := m.Count(); m.maxCalls > 0 && n >= m.maxCalls {
		return fmt.Errorf("%d of %d call slots in use", n, m.maxCalls)
	}
	return nil
}
