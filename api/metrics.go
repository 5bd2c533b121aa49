package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/fees-engine/billing"
	"github.com/warp/fees-engine/generic"
)

const metricsNamespace = "fees"

// Metrics holds the service's Prometheus collectors on a private registry.
// All observe methods are nil-safe.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	payments        *prometheus.CounterVec
	penalties       *prometheus.CounterVec
	callbacks       *prometheus.CounterVec
	sweepDuration   prometheus.Histogram
	sweepFailures   prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "payments_recorded_total",
			Help:      "Payments recorded or confirmed, by method and status.",
		}, []string{"method", "status"}),
		penalties: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "penalties_applied_total",
			Help:      "Penalty rows applied, by origin.",
		}, []string{"applied_by"}),
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "provider_callbacks_total",
			Help:      "Provider callbacks by outcome and whether they were duplicates.",
		}, []string{"outcome", "duplicate"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "penalty_sweep_duration_seconds",
			Help:      "Duration of penalty sweeps.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "penalty_sweep_invoice_failures_total",
			Help:      "Invoices a sweep failed to process.",
		}),
	}
	m.registry.MustRegister(
		m.requestsTotal, m.requestDuration, m.payments, m.penalties,
		m.callbacks, m.sweepDuration, m.sweepFailures,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request counts and latency, labelled with the chi
// route pattern so ids don't explode cardinality.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

func (m *Metrics) observePayment(p generic.Payment) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(string(p.Method), string(p.Status)).Inc()
}

func (m *Metrics) observePenalties(by generic.AppliedBy, n int) {
	if m == nil || n == 0 {
		return
	}
	m.penalties.WithLabelValues(string(by)).Add(float64(n))
}

func (m *Metrics) observeCallback(outcome string, duplicate bool) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(outcome, strconv.FormatBool(duplicate)).Inc()
}

func (m *Metrics) observeSweep(r *billing.SweepReport) {
	if m == nil || r == nil {
		return
	}
	m.sweepDuration.Observe(r.Duration.Seconds())
	m.sweepFailures.Add(float64(len(r.Failures)))
	m.observePenalties(generic.AppliedBySystem, len(r.Applied))
}
