package insightshttp

import "github.com/go-chi/chi/v5"

// MountRoutes registers the guide insights endpoints.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Get("/api/guide/insights/monthly", h.handleMonthly)
}
