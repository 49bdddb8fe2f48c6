package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	completionsTotal    *prometheus.CounterVec
	rollbacksTotal      prometheus.Counter
	degradedAdjustments prometheus.Counter
	syncRunsTotal       *prometheus.CounterVec
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "craftline_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "craftline_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	completions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "craftline_order_completions_total",
		Help: "Production order completion attempts by result.",
	}, []string{"result"})
	rollbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "craftline_stock_rollbacks_total",
		Help: "Compensating stock rollbacks performed after a partial failure.",
	})
	degraded := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "craftline_ledger_degraded_adjustments_total",
		Help: "Stock adjustments served by the non-atomic fallback path.",
	})
	syncRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "craftline_sync_runs_total",
		Help: "Completed-order reconciliation runs by result.",
	}, []string{"result"})
	registry.MustRegister(requests, duration, completions, rollbacks, degraded, syncRuns)
	return &Metrics{
		registry:            registry,
		handler:             promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:       requests,
		requestDuration:     duration,
		completionsTotal:    completions,
		rollbacksTotal:      rollbacks,
		degradedAdjustments: degraded,
		syncRunsTotal:       syncRuns,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveCompletion records a completion attempt outcome.
func (m *Metrics) ObserveCompletion(result string) {
	if m == nil {
		return
	}
	m.completionsTotal.WithLabelValues(result).Inc()
}

// ObserveRollback records a compensating rollback.
func (m *Metrics) ObserveRollback() {
	if m == nil {
		return
	}
	m.rollbacksTotal.Inc()
}

// ObserveDegradedAdjustment records a fallback-path stock adjustment.
func (m *Metrics) ObserveDegradedAdjustment() {
	if m == nil {
		return
	}
	m.degradedAdjustments.Inc()
}

// ObserveSyncRun records a reconciliation run outcome.
func (m *Metrics) ObserveSyncRun(result string) {
	if m == nil {
		return
	}
	m.syncRunsTotal.WithLabelValues(result).Inc()
}

// Middleware records metrics for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
