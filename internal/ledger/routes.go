package ledger

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/schoolledger/feeledger/internal/shared"
)

// MountRoutes registers ledger endpoints under /ledger.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	// Payment submission is throttled per actor on top of the global IP limit.
	limiter := httprate.Limit(h.paymentLimit, time.Minute,
		httprate.WithKeyFuncs(actorKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)

	r.Post("/dues/generate", h.handleGenerate)
	r.Patch("/dues/{id}", h.handleAdjustDue)
	r.Group(func(gr chi.Router) {
		gr.Use(limiter)
		gr.Post("/payments/collect", h.handleCollect)
		gr.Post("/payments/record", h.handleRecord)
	})
	r.Get("/students/{id}", h.handleStudentLedger)
	r.Get("/summary", h.handleSummary)
	r.Get("/defaulters", h.handleDefaulters)
}

func actorKey(r *http.Request) (string, error) {
	if actor := shared.ActorFromContext(r.Context()); actor > 0 {
		return "actor:" + strconv.FormatInt(actor, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
