package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Auth outcomes recorded by the identity flows.
const (
	AuthOutcomeSuccess        = "success"
	AuthOutcomeDisambiguation = "disambiguation"
	AuthOutcomeFailure        = "failure"
)

// MetricsSnapshot is a lightweight summary for the teacher dashboard.
type MetricsSnapshot struct {
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"average_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"average_db_query_duration_ms"`
	EvaluationsSubmitted     uint64    `json:"evaluations_submitted"`
	SessionsExpired          uint64    `json:"sessions_expired"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}

// MetricsService encapsulates Prometheus instrumentation. A nil *MetricsService is a valid no-op.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	dbQueryDuration *prometheus.HistogramVec
	authAttempts    *prometheus.CounterVec
	evaluations     *prometheus.CounterVec
	sessionsExpired prometheus.Counter

	requestCount         uint64
	requestDurationTotal uint64
	dbQueryCount         uint64
	dbQueryDurationTotal uint64
	evaluationCount      uint64
	expiredCount         uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of database queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	authAttempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_attempts_total",
		Help: "Authentication attempts by path and outcome",
	}, []string{"path", "outcome"})

	evaluations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "evaluations_submitted_total",
		Help: "Evaluation bundles stored, by evaluator role",
	}, []string{"role"})

	sessionsExpired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sessions_expired_total",
		Help: "Sessions rejected because their lifetime elapsed",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, dbQueryDuration, authAttempts, evaluations, sessionsExpired, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		dbQueryDuration: dbQueryDuration,
		authAttempts:    authAttempts,
		evaluations:     evaluations,
		sessionsExpired: sessionsExpired,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// ObserveDBQuery records database query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
	atomic.AddUint64(&m.dbQueryCount, 1)
	atomic.AddUint64(&m.dbQueryDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordAuthAttempt counts a login, select or join outcome.
func (m *MetricsService) RecordAuthAttempt(path, outcome string) {
	if m == nil {
		return
	}
	m.authAttempts.WithLabelValues(path, outcome).Inc()
}

// RecordEvaluation counts a stored evaluation bundle.
func (m *MetricsService) RecordEvaluation(role string) {
	if m == nil {
		return
	}
	m.evaluations.WithLabelValues(role).Inc()
	atomic.AddUint64(&m.evaluationCount, 1)
}

// RecordSessionExpired counts a session rejected for age.
func (m *MetricsService) RecordSessionExpired() {
	if m == nil {
		return
	}
	m.sessionsExpired.Inc()
	atomic.AddUint64(&m.expiredCount, 1)
}

// Snapshot returns aggregated metrics.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	dbCount := atomic.LoadUint64(&m.dbQueryCount)
	dbDuration := atomic.LoadUint64(&m.dbQueryDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	var avgDBMs float64
	if dbCount > 0 {
		avgDBMs = float64(dbDuration) / float64(dbCount) / float64(time.Millisecond)
	}

	return MetricsSnapshot{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		DBQueryCount:             dbCount,
		AverageDBQueryDurationMs: avgDBMs,
		EvaluationsSubmitted:     atomic.LoadUint64(&m.evaluationCount),
		SessionsExpired:          atomic.LoadUint64(&m.expiredCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
