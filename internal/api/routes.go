package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/analytics", s.HandleAnalyze)
		r.Post("/airtime", s.HandleAirtime)
		r.Get("/devices/{dev_eui}/analytics", s.HandleDeviceAnalytics)
	})
}
