package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// HealthHandler serves liveness checks for load balancers and uptime probes.
type HealthHandler struct {
	started time.Time
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(logger *slog.Logger) *HealthHandler {
	return &HealthHandler{started: time.Now().UTC(), logger: logger}
}

// HealthCheck reports that the service is up, with its uptime.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "sharescan",
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})
}
