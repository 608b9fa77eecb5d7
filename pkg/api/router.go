package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/usbsas/internal/logger"
	"github.com/marmos91/usbsas/pkg/api/handlers"
	apimiddleware "github.com/marmos91/usbsas/pkg/api/middleware"
	"github.com/marmos91/usbsas/pkg/auth"
	"github.com/marmos91/usbsas/pkg/session"
)

// NewRouter builds the chi router for the front-end session controller:
// health probes, the per-session device/partition/dir/copy/wipe/imgdisk
// surface, and the admin session-listing/force-teardown
// surface. adminJWT may be nil, in which case the admin
// routes are not mounted. adminCredential may be nil, in which case the
// login route is not mounted and operators mint tokens offline with the
// CLI's token-issue command instead.
func NewRouter(manager *session.Manager, adminJWT *auth.AdminJWTService, adminCredential *auth.AdminCredential) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	healthHandler := handlers.NewHealthHandler(manager)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	sessionHandler := handlers.NewSessionHandler(manager)
	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Post("/", sessionHandler.Create)

		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/devices", sessionHandler.ListDevices)
			r.Post("/select", sessionHandler.SelectDevice)
			r.Get("/partitions", sessionHandler.Partitions)
			r.Post("/partitions/open", sessionHandler.OpenPartition)
			r.Get("/dir", sessionHandler.ReadDir)
			r.Post("/copy", sessionHandler.Copy)
			r.Post("/wipe", sessionHandler.Wipe)
			r.Post("/imgdisk", sessionHandler.ImageDisk)
			r.Post("/reset", sessionHandler.Reset)
		})
	})

	if adminJWT != nil {
		if adminCredential != nil {
			loginHandler := handlers.NewLoginHandler(adminJWT, adminCredential)
			r.Post("/api/v1/admin/login", loginHandler.Login)
		}
		adminHandler := handlers.NewAdminHandler(manager)
		r.Route("/api/v1/admin/sessions", func(r chi.Router) {
			r.Use(apimiddleware.AdminAuth(adminJWT))
			r.Get("/", adminHandler.ListSessions)
			r.Delete("/{sessionID}", adminHandler.TerminateSession)
			r.Get("/{sessionID}/history", adminHandler.SessionHistory)
		})
		r.Route("/api/v1/admin/activity", func(r chi.Router) {
			r.Use(apimiddleware.AdminAuth(adminJWT))
			r.Get("/", adminHandler.RecentActivity)
		})
	}

	return r
}

// requestLogger logs request start (debug) and completion (info) via the
// internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("API request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
