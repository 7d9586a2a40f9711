// Package health serves the liveness and readiness endpoints of the metrics
// listener.
//
//   - /healthz always answers 200 while the process can serve HTTP.
//   - /readyz answers 200 only when every [Checker] passes. talkie registers
//     two: "audio" (both device streams running) and "pipeline" (the voice
//     pipeline is usable in the configured mode).
//
// Responses are JSON objects with a top-level "status" field ("ok" or "fail")
// and a "checks" map holding the outcome of each named checker.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness condition. Check returns nil when healthy.
type Checker struct {
	Name  string
	Check func(ctx context.Context) error
}

// Condition is a readiness flag owned by the component it describes. The
// zero value is not ready and reports "not started".
type Condition struct {
	mu     sync.Mutex
	ready  bool
	reason string
}

// Ready marks the condition healthy.
func (c *Condition) Ready() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready, c.reason = true, ""
}

// NotReady marks the condition unhealthy with a short reason.
func (c *Condition) NotReady(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready, c.reason = false, reason
}

// Err returns nil when ready and the reason otherwise.
func (c *Condition) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready {
		return nil
	}
	if c.reason == "" {
		return errors.New("not started")
	}
	return errors.New(c.reason)
}

// Checker wraps the condition as a named [Checker].
func (c *Condition) Checker(name string) Checker {
	return Checker{Name: name, Check: func(context.Context) error { return c.Err() }}
}

type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves /healthz and /readyz. The checker list is fixed at
// construction time.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] evaluating checkers on each /readyz request.
func New(checkers ...Checker) *Handler {
	return &Handler{checkers: append([]Checker(nil), checkers...)}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz runs all checkers concurrently, each under a [checkTimeout]
// deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	errs := make([]error, len(h.checkers))
	var wg sync.WaitGroup
	for i, c := range h.checkers {
		wg.Go(func() {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			errs[i] = c.Check(ctx)
		})
	}
	wg.Wait()

	res := result{Status: "ok", Checks: make(map[string]string, len(h.checkers))}
	status := http.StatusOK
	for i, c := range h.checkers {
		if errs[i] != nil {
			res.Checks[c.Name] = "fail: " + errs[i].Error()
			res.Status = "fail"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[c.Name] = "ok"
	}
	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
