package handlers

import (
	"net/http"

	"github.com/marmos91/usbsas/pkg/apitypes"
	"github.com/marmos91/usbsas/pkg/session"
)

// HealthHandler serves the unauthenticated liveness/readiness probes.
type HealthHandler struct {
	manager *session.Manager
}

// NewHealthHandler builds a HealthHandler over manager.
func NewHealthHandler(manager *session.Manager) *HealthHandler {
	return &HealthHandler{manager: manager}
}

// Liveness handles GET /health: always 200 once the process is serving.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, apitypes.HealthyResponse(map[string]string{
		"service": "usbsas",
	}))
}

// Readiness handles GET /health/ready: 503 if the session manager isn't
// wired up, otherwise 200 with the current session count.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		writeJSON(w, http.StatusServiceUnavailable, apitypes.UnhealthyResponse("session manager not initialized"))
		return
	}
	writeJSON(w, http.StatusOK, apitypes.HealthyResponse(map[string]any{
		"active_sessions": h.manager.Count(),
	}))
}
