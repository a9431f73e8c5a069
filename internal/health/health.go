// Package health exposes liveness and readiness checks.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Checker verifies one dependency (storage, membership, hint store).
type Checker func(ctx context.Context) error

// Health aggregates named dependency checks.
type Health struct {
	checkers map[string]Checker
	timeout  time.Duration
	logger   *zap.Logger
}

// New creates an empty health check set.
func New(logger *zap.Logger) *Health {
	return &Health{
		checkers: make(map[string]Checker),
		timeout:  2 * time.Second,
		logger:   logger,
	}
}

// Register adds a named dependency check.
func (h *Health) Register(name string, check Checker) {
	h.checkers[name] = check
}

type livenessResponse struct {
	Status string `json:"status"`
}

type readinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// LivenessHandler handles GET /health: the process is up.
func (h *Health) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, livenessResponse{Status: "healthy"})
}

// ReadinessHandler handles GET /ready: every dependency answers.
func (h *Health) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := readinessResponse{Status: "ready", Checks: make(map[string]string)}
	status := http.StatusOK
	for name, check := range h.checkers {
		if err := check(ctx); err != nil {
			resp.Status = "not_ready"
			resp.Checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			h.logger.Warn("Readiness check failed",
				zap.String("check", name), zap.Error(err))
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
