// Package health serves the liveness and readiness endpoints.
//
// /healthz and /health answer 200 while the process can serve HTTP. /readyz
// answers 200 only when every [Checker] passes, so a load balancer in front
// of several bridges stops routing new calls to one whose providers are all
// down or whose call capacity is used up.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/telebridge/internal/resilience"
)

// checkTimeout bounds each check.
const checkTimeout = 5 * time.Second

// Checker is one named readiness condition. Check returns nil when healthy
// and must honour ctx.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

type checkResult struct {
	Status  string `json:"status"`
	Error   string `json:"error,omitempty"`
	Latency string `json:"latency"`
}

type report struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

// Handler serves the liveness and readiness endpoints. Its checker list is fixed at
// construction.
type Handler struct {
	checkers []Checker
}

// New returns a Handler evaluating checkers on every readiness request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Register mounts /healthz, /health and /readyz on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /health", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Healthz always reports ok.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, report{Status: "ok"})
}

// Readyz runs all checks concurrently and answers 503 if any fails.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	rep := report{Status: "ok", Checks: make(map[string]checkResult, len(h.checkers))}
	var mu sync.Mutex

	var g errgroup.Group
	for _, c := range h.checkers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			start := time.Now()
			err := c.Check(ctx)
			res := checkResult{Status: "ok", Latency: time.Since(start).Round(time.Microsecond).String()}
			if err != nil {
				res.Status, res.Error = "fail", err.Error()
			}
			mu.Lock()
			rep.Checks[c.Name] = res
			if err != nil {
				rep.Status = "fail"
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	code := http.StatusOK
	if rep.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, rep)
}

// ProviderCheck fails when no member of a fallback group can take a request,
// i.e. every breaker is open. Half-open members count as available since
// they admit trial requests.
func ProviderCheck(name string, status func() []resilience.ProviderStatus) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			members := status()
			if len(members) == 0 {
				return errors.New("no providers configured")
			}
			var open []string
			for _, m := range members {
				if m.State != resilience.StateOpen {
					return nil
				}
				open = append(open, m.Name)
			}
			return fmt.Errorf("all circuits open: %s", strings.Join(open, ", "))
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
