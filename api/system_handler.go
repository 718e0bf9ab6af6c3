package api

import (
	"net/http"
)

// HealthResponse reports service liveness and the tracked-key count
type HealthResponse struct {
	Status         string `json:"status"`
	ActiveLimiters int    `json:"activeLimiters"`
}

// HealthCheck handles GET /api/health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := h.engine.Health()
	h.sendJSON(w, http.StatusOK, HealthResponse{
		Status:         health.Status,
		ActiveLimiters: health.ActiveLimiters,
	})
}

// Metrics handles GET /api/metrics. The JSON counters live here; the
// Prometheus exposition endpoint is mounted separately by the server.
func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, h.engine.Metrics())
}
