package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/usbsas/internal/logger"
	"github.com/marmos91/usbsas/pkg/session"
)

// AdminHandler exposes the operator-facing admin surface: listing every
// live session and force-terminating one.
// Routes are guarded by middleware.AdminAuth, distinct from the per-session
// HMAC path tokens pkg/session verifies inline.
type AdminHandler struct {
	manager *session.Manager
}

// NewAdminHandler builds an AdminHandler over manager.
func NewAdminHandler(manager *session.Manager) *AdminHandler {
	return &AdminHandler{manager: manager}
}

// ListSessions handles GET /api/v1/admin/sessions.
func (h *AdminHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	OK(w, h.manager.List())
}

// TerminateSession handles DELETE /api/v1/admin/sessions/{sessionID}.
func (h *AdminHandler) TerminateSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if err := h.manager.Terminate(id); err != nil {
		NotFound(w, "unknown session")
		return
	}
	logger.Info("session force-terminated by admin", logger.SessionID(id))
	OK(w, map[string]string{"status": "terminated"})
}

// SessionHistory handles GET /api/v1/admin/sessions/{sessionID}/history,
// surfacing the persisted audit trail (pkg/audit) for sessions whose worker
// pipeline has already torn down and dropped out of Manager.List.
func (h *AdminHandler) SessionHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	records, err := h.manager.AuditHistory(r.Context(), id)
	if err != nil {
		InternalServerError(w, "failed to load session history")
		return
	}
	OK(w, records)
}

// RecentActivity handles GET /api/v1/admin/activity?limit=N, the global
// audit feed across every session.
func (h *AdminHandler) RecentActivity(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	records, err := h.manager.RecentActivity(r.Context(), limit)
	if err != nil {
		InternalServerError(w, "failed to load activity")
		return
	}
	OK(w, records)
}
