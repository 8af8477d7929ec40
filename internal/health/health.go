// Package health provides HTTP liveness and readiness handlers for the
// capture service.
//
// Two endpoints are exposed:
//
//   - /healthz: liveness probe, always 200 while the process serves HTTP.
//   - /readyz: readiness probe, 200 only when every registered [Checker]
//     passes.
//
// Responses are JSON with a top-level "status" field ("ok" or "fail") and,
// for readiness, a "checks" map with the outcome of each named checker.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sonatap/sonatap/pkg/capture"
)

// checkTimeout bounds a single readiness check.
const checkTimeout = 5 * time.Second

// Checker is a named readiness check. Check returns nil when the dependency
// is usable and an error describing the failure otherwise.
type Checker struct {
	// Name labels this check in the JSON response (e.g. "capture",
	// "staging").
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// CaptureRunning returns a [Checker] that passes only while the capture
// session is in the started state. Before Start the service accepts no
// audio, and after Stop it never will again, so neither counts as ready.
func CaptureRunning(c *capture.Capture) Checker {
	return Checker{
		Name: "capture",
		Check: func(_ context.Context) error {
			if s := c.State(); s != capture.StateStarted {
				return fmt.Errorf("capture session is %s", s)
			}
			return nil
		},
	}
}

// result is the JSON response body for both endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves the /healthz and /readyz endpoints. The checker list is
// fixed at construction time, making the handler safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a [Handler] that evaluates the given checkers, in order, on
// each /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always returns 200 OK. A process that can serve HTTP is alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz returns 200 only when every registered [Checker] passes. Each check
// runs with a [checkTimeout] deadline derived from the request context.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	allOK := true

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			allOK = false
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{
		Status: "ok",
		Checks: checks,
	}
	status := http.StatusOK
	if !allOK {
		res.Status = "fail"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, res)
}

// Register adds the /healthz and /readyz routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// writeJSON encodes v as JSON with the given status code, falling back to a
// plain-text 500 on encoding failure.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
