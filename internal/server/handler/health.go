package handler

import (
	"net/http"
	"time"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "telemgps"

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	now func() time.Time
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{now: time.Now}
}

// HealthCheck reports that the process is up.
// GET /health, GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": ServiceName,
		"time_ms": h.now().UnixMilli(),
	})
}
