// Package observability collects Prometheus metrics for the engine.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics aggregates the registry and the engine's instruments.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	stageTransitions *prometheus.CounterVec
	pickupConflicts  prometheus.Counter
	proofReviews     *prometheus.CounterVec
}

// NewMetrics initialises the registry and base instruments.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweetline_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sweetline_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweetline_stage_transitions_total",
		Help: "Committed workflow stage transitions by target stage.",
	}, []string{"to"})
	conflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sweetline_pickup_conflicts_total",
		Help: "Courier pickup attempts lost to another driver.",
	})
	reviews := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweetline_proof_reviews_total",
		Help: "Proof-of-payment reviews by outcome.",
	}, []string{"outcome"})
	registry.MustRegister(requests, duration, transitions, conflicts, reviews)
	return &Metrics{
		registry:         registry,
		handler:          promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:    requests,
		requestDuration:  duration,
		stageTransitions: transitions,
		pickupConflicts:  conflicts,
		proofReviews:     reviews,
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

// ObserveStageTransition records a committed transition.
func (m *Metrics) ObserveStageTransition(to string) {
	if m == nil {
		return
	}
	m.stageTransitions.WithLabelValues(to).Inc()
}

// ObservePickupConflict records a lost pickup race.
func (m *Metrics) ObservePickupConflict() {
	if m == nil {
		return
	}
	m.pickupConflicts.Inc()
}

// ObserveProofReview records a proof review outcome.
func (m *Metrics) ObserveProofReview(outcome string) {
	if m == nil {
		return
	}
	m.proofReviews.WithLabelValues(outcome).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
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
