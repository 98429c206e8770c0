package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nicholastmosher/easycom-sub000/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.rateLimitMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.With(s.requirePermission(auth.PermSystemRead)).Get("/metrics", s.handlePrometheus)
			r.With(s.requirePermission(auth.PermSystemRead)).Get("/system/metrics", s.handleSystemMetrics)

			r.Route("/connections", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermConnectionRead))
				r.Get("/", s.handleListConnections)
				r.With(s.requirePermission(auth.PermConnectionManage)).Post("/", s.handleCreateConnection)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetConnection)
					r.Get("/events", s.handleConnectionEvents)

					r.Group(func(r chi.Router) {
						r.Use(s.requirePermission(auth.PermConnectionManage))
						r.Patch("/", s.handleRenameConnection)
						r.Delete("/", s.handleDeleteConnection)
					})

					r.Group(func(r chi.Router) {
						r.Use(s.requirePermission(auth.PermConnectionOperate))
						r.Post("/connect", s.handleConnect)
						r.Post("/disconnect", s.handleDisconnect)
						r.Post("/send", s.handleSend)
					})
				})
			})

			r.Route("/devices", func(r chi.Router) {
				r.Use(s.requirePermission(auth.PermConnectionRead))
				r.Get("/", s.handleListDevices)
				r.Get("/stats", s.handleDeviceStats)
				r.With(s.requirePermission(auth.PermDeviceManage)).Post("/", s.handleCreateDevice)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)
					r.With(s.requirePermission(auth.PermDeviceManage)).Patch("/", s.handleUpdateDevice)
					r.With(s.requirePermission(auth.PermDeviceDelete)).Delete("/", s.handleDeleteDevice)
				})
			})

			r.With(s.requirePermission(auth.PermConnectionRead)).Get("/history", s.handleListEvents)

			// WebSocket (token may come from the query string)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	if s.panel != nil {
		r.Handle("/*", s.panel)
	}

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"status":      "ok",
		"version":     s.version,
		"connections": s.registry.Len(),
	}
	if s.mqtt != nil {
		resp["mqtt_connected"] = s.mqtt.IsConnected()
	}
	writeJSON(w, http.StatusOK, resp)
}
