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
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		// Health check (no auth required)
		r.Get("/health", s.handleHealth)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// Speaker endpoints
			r.Route("/speakers", func(r chi.Router) {
				r.Get("/", s.handleListSpeakers)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetSpeaker)
					r.Get("/state", s.handleGetSpeakerState)
					r.Get("/sources", s.handleGetSpeakerSources)
					r.Post("/refresh", s.handleRefreshSpeaker)
					r.Put("/volume", s.handleSetVolume)
					r.Post("/power", s.handlePower)
					r.Put("/source", s.handleSelectSource)
				})
			})

			// Zone endpoints
			r.Route("/zones", func(r chi.Router) {
				r.Get("/", s.handleGetTopology)
				r.Post("/", s.handleCreateZone)
				r.Post("/{master}/join", s.handleJoinZone)
				r.Post("/{master}/leave", s.handleLeaveZone)
			})

			// WebSocket (auth via middleware, token also accepted as query param)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}
