package app

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/schoolledger/feeledger/internal/observability"
	"github.com/schoolledger/feeledger/internal/platform/httpx"
	"github.com/schoolledger/feeledger/internal/shared"
)

// ActorHeader carries the authenticated user id set by the upstream auth proxy.
const ActorHeader = "X-Actor-ID"

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger  *slog.Logger
	Config  *Config
	Metrics *observability.Metrics
}

// MiddlewareStack installs the fee ledger middleware chain.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "no-referrer",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		SSLRedirect:           cfg.Config != nil && cfg.Config.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         cfg.Config == nil || !cfg.Config.IsProduction(),
	})

	timeout := 30 * time.Second
	limit := 120
	if cfg.Config != nil {
		if cfg.Config.AppRequestTimeout > 0 {
			timeout = cfg.Config.AppRequestTimeout
		}
		if cfg.Config.RateLimitPerMinute > 0 {
			limit = cfg.Config.RateLimitPerMinute
		}
	}

	middlewares := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		middleware.Recoverer,
		middleware.Timeout(timeout),
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if err := secureMiddleware.Process(w, r); err != nil {
					cfg.Logger.Warn("secure headers blocked request", slog.Any("error", err))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
					return
				}
				next.ServeHTTP(w, r)
			})
		},
		middleware.Compress(5),
		httprate.Limit(limit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)),
		ActorMiddleware,
	}
	if cfg.Metrics != nil {
		middlewares = append(middlewares, func(next http.Handler) http.Handler {
			return cfg.Metrics.Middleware(next)
		})
	}
	return middlewares
}

// ActorMiddleware reads the X-Actor-ID header into the request context. A
// malformed value is rejected; a missing one leaves the request anonymous.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(ActorHeader))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		actor, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || actor <= 0 {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", ActorHeader+" must be a positive integer")
			return
		}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}
