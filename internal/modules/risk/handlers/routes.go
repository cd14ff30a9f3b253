package handlers

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers all risk routes
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/risk", func(r chi.Router) {
		r.Get("/metrics", h.HandleMetrics)
		r.Post("/measures", h.HandleMeasures)
		r.Post("/attribution", h.HandleAttribution)
	})
}
