package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/schoolledger/feeledger/internal/feeconfig"
	"github.com/schoolledger/feeledger/internal/ledger"
	"github.com/schoolledger/feeledger/internal/observability"
	"github.com/schoolledger/feeledger/internal/platform/httpx"
	"github.com/schoolledger/feeledger/jobs"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Database         Pinger
	FeeConfigHandler *feeconfig.Handler
	LedgerHandler    *ledger.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with fee ledger defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Database != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Database.Ping(ctx); err != nil {
				params.Logger.Warn("healthz database ping", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if params.FeeConfigHandler != nil {
		r.Route("/fees", params.FeeConfigHandler.MountRoutes)
	}
	if params.LedgerHandler != nil {
		r.Route("/ledger", params.LedgerHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	return r
}
