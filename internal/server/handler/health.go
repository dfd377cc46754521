package handler

import (
	"context"
	"net/http"
	"time"
)

// HealthCheckFn pings one backing dependency.
type HealthCheckFn func(ctx context.Context) error

// HealthHandler serves liveness plus per-dependency readiness. Checks are
// registered by name at wiring time; an instance with no checks reports
// plain liveness.
type HealthHandler struct {
	checks map[string]HealthCheckFn
}

// NewHealthHandler creates a HealthHandler with the given dependency
// checks, keyed by dependency name.
func NewHealthHandler(checks map[string]HealthCheckFn) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// HealthCheck responds 200 when every dependency answers, 503 otherwise.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	body := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	if len(deps) > 0 {
		body["dependencies"] = deps
	}
	writeJSON(w, status, body)
}
