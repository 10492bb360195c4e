package feeconfig

import "github.com/go-chi/chi/v5"

// MountRoutes registers fee configuration endpoints under /fees.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	r.Route("/types", func(r chi.Router) {
		r.Get("/", h.handleListFeeTypes)
		r.Post("/", h.handleCreateFeeType)
		r.Put("/{id}", h.handleUpdateFeeType)
		r.Delete("/{id}", h.handleDeleteFeeType)
	})
	r.Route("/rates", func(r chi.Router) {
		r.Get("/", h.handleListRates)
		r.Put("/", h.handleUpsertRate)
		r.Post("/bulk", h.handleBulkRates)
	})
}
