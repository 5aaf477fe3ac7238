package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Liveness (no auth required)
	r.Get("/healthz", s.handleHealthz)

	// WebSocket (auth via token query parameter, validated in handler)
	r.Get("/ws", s.handleWebSocket)

	// Protected API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/states", s.handleListStates)
		r.Route("/states/{entityID}", func(r chi.Router) {
			r.Get("/", s.handleGetState)
			r.Post("/", s.handleSetState)
		})

		r.Get("/history/{entityID}", s.handleHistory)
	})

	return r
}

// handleHealthz returns the server health status.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
