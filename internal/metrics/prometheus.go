// Package metrics provides billing.Metrics implementations: Prometheus for
// the long-running API and CloudWatch for the queue worker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"subsync/internal/billing"
	"subsync/internal/types"
)

var _ billing.Metrics = (*Prometheus)(nil)

// Prometheus records reconciliation and HTTP telemetry.
type Prometheus struct {
	eventsTotal     *prometheus.CounterVec
	conflictsTotal  *prometheus.CounterVec
	applyDuration   *prometheus.HistogramVec
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewPrometheus registers the collectors on reg under namespace.
func NewPrometheus(reg prometheus.Registerer, namespace string) *Prometheus {
	factory := promauto.With(reg)

	return &Prometheus{
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "webhook_events_total",
			Help:      "Subscription events processed, by kind and outcome.",
		}, []string{"kind", "outcome"}),

		conflictsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "store_conflicts_total",
			Help:      "Compare-and-set attempts lost to a concurrent writer.",
		}, []string{"kind"}),

		applyDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "billing",
			Name:      "apply_duration_seconds",
			Help:      "Time spent applying one subscription event.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by route pattern and status.",
		}, []string{"method", "route", "status"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Prometheus) RecordEvent(kind types.EventKind, outcome billing.Outcome) {
	m.eventsTotal.WithLabelValues(string(kind), string(outcome)).Inc()
}

func (m *Prometheus) RecordConflict(kind types.EventKind) {
	m.conflictsTotal.WithLabelValues(string(kind)).Inc()
}

func (m *Prometheus) ObserveApply(kind types.EventKind, d time.Duration) {
	m.applyDuration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

// Middleware records request counts and latency labelled by the chi route
// pattern, so path parameters do not explode label cardinality.
func (m *Prometheus) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		m.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
