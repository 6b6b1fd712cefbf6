// Package health provides HTTP health and readiness check handlers.
//
// The package exposes three endpoints:
//
//   - /health  — operational summary for infrastructure dashboards: status,
//     timestamp, version, environment, active call count, and a feature map
//     showing which optional adapters are live rather than no-op.
//   - /healthz — liveness probe; always returns 200 OK.
//   - /readyz  — readiness probe; returns 200 only when all registered
//     [Checker] functions pass.
//
// Probe responses are JSON objects with a top-level "status" field ("ok" or
// "fail") and a "checks" map containing the result of each named checker.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// checkTimeout is the maximum time a single readiness check may take before
// the context is cancelled.
const checkTimeout = 5 * time.Second

// Checker is a named health check function. The Check function should return
// nil when the dependency is healthy and a non-nil error describing the
// failure otherwise.
type Checker struct {
	// Name is a short, human-readable label for this check (e.g. "backend",
	// "transcripts"). It appears as a key in the JSON response.
	Name string

	// Check probes the dependency. It must respect context cancellation.
	Check func(ctx context.Context) error
}

// Features reports which optional adapters are configured with real
// credentials. A false value means the adapter is running as a no-op.
type Features struct {
	Backend     bool `json:"backend"`
	Transcripts bool `json:"transcripts"`
	Email       bool `json:"email"`
	SMS         bool `json:"sms"`
}

// Info is the deployment-level data reported by /health.
type Info struct {
	// Version is the build version string.
	Version string

	// Environment is the runtime environment name ("development",
	// "production").
	Environment string

	// Features reports adapter availability.
	Features Features

	// ActiveCalls reports the number of currently bridged calls. May be
	// nil, in which case the count is reported as zero.
	ActiveCalls func() int
}

// result is the JSON response body for probe endpoints.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// healthResponse is the JSON response body for /health.
type healthResponse struct {
	Status      string   `json:"status"`
	Timestamp   string   `json:"timestamp"`
	Version     string   `json:"version"`
	Environment string   `json:"environment"`
	ActiveCalls int      `json:"active_calls"`
	Features    Features `json:"features"`
}

// Handler serves the health endpoints. It is safe for concurrent use; the
// checker list and deployment info are fixed at construction time.
type Handler struct {
	info     Info
	checkers []Checker
	now      func() time.Time
}

// New creates a [Handler] reporting the given deployment info. The checkers
// are evaluated sequentially on each /readyz request, in the order provided.
func New(info Info, checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{info: info, checkers: c, now: time.Now}
}

// Health reports the operational summary. It always returns 200; a process
// that can serve this endpoint is functioning, whatever its adapters look
// like.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Timestamp:   h.now().UTC().Format(time.RFC3339),
		Version:     h.info.Version,
		Environment: h.info.Environment,
		Features:    h.info.Features,
	}
	if h.info.ActiveCalls != nil {
		resp.ActiveCalls = h.info.ActiveCalls()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Healthz is a liveness probe that always returns 200 OK. A running process
// that can serve HTTP is considered alive.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz is a readiness probe that returns 200 only when every registered
// [Checker] passes. Each checker is given a context with a [checkTimeout]
// deadline derived from the request context.
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

// Register adds the health routes to r.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
}

// writeJSON encodes v as JSON and writes it with the given status code. On
// encoding failure it falls back to a plain-text 500 response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
