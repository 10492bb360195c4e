package ledger

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors for ledger mutations.
type Metrics struct {
	duesGenerated *prometheus.CounterVec
	payments      *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	retries       *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// NewMetrics registers the ledger metrics against registerer, falling back to
// the default Prometheus registerer when nil.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		defaultOnce.Do(func() {
			defaultMetrics = buildMetrics(prometheus.DefaultRegisterer)
		})
		return defaultMetrics
	}
	return buildMetrics(registerer)
}

func buildMetrics(registerer prometheus.Registerer) *Metrics {
	generated := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feeledger_dues_generated_total",
		Help: "Dues considered by generation runs, by outcome.",
	}, []string{"outcome"})
	payments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feeledger_payments_total",
		Help: "Payments committed, by kind and mode.",
	}, []string{"kind", "mode"})
	rejections := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feeledger_payment_rejections_total",
		Help: "Payments rejected, by reason.",
	}, []string{"reason"})
	retries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "feeledger_ledger_retries_total",
		Help: "Transactions re-run after a version conflict, by operation.",
	}, []string{"operation"})
	registerer.MustRegister(generated, payments, rejections, retries)
	return &Metrics{duesGenerated: generated, payments: payments, rejections: rejections, retries: retries}
}

func (m *Metrics) addGenerated(created, skipped int) {
	if m == nil {
		return
	}
	m.duesGenerated.WithLabelValues("created").Add(float64(created))
	m.duesGenerated.WithLabelValues("skipped").Add(float64(skipped))
}

func (m *Metrics) paymentCommitted(kind PaymentKind, mode PaymentMode) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(string(kind), string(mode)).Inc()
}

func (m *Metrics) paymentRejected(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) retried(operation string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(operation).Inc()
}
