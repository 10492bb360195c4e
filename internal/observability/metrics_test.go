package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/schoolledger/feeledger/internal/ledger"
)

func TestMetricsHandlerExposesDomainCollectors(t *testing.T) {
	metrics := NewMetrics()
	ledger.NewMetrics(metrics.Registerer())

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "go_goroutines")

	// Vector metrics only appear once a label set has been observed.
	families, err := metrics.registry.Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/ledger/students/{id}")

	req := httptest.NewRequest(http.MethodGet, "/ledger/students/101", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := metricsRR.Body.String()
	require.Contains(t, body, `feeledger_http_requests_total{code="418",method="GET",route="/ledger/students/{id}"} 1`)
	require.Contains(t, body, `feeledger_http_request_duration_seconds_bucket{route="/ledger/students/{id}"`)
	require.True(t, strings.Contains(body, "feeledger_http_requests_in_flight 0"))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var metrics *Metrics
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	require.NotNil(t, metrics.Middleware(next))
	require.Equal(t, prometheus.DefaultRegisterer, metrics.Registerer())

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
