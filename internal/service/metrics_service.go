package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for auth counters.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeLocked             = "locked"
	OutcomeInvalidToken       = "invalid_token"
	OutcomeDuplicate          = "duplicate"
	OutcomeInvalidInput       = "invalid_input"
	OutcomeError              = "error"
)

// MetricsService encapsulates Prometheus instrumentation for HTTP traffic
// and authentication events.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec

	registrations     *prometheus.CounterVec
	logins            *prometheus.CounterVec
	lockouts          prometheus.Counter
	refreshes         *prometheus.CounterVec
	reuseDetected     prometheus.Counter
	chainRevocations  prometheus.Counter
	passwordHashTime  prometheus.Histogram
	auditDropped      prometheus.Counter
	rateLimitRejected prometheus.Counter
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

	registrations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_registrations_total",
		Help: "Registration attempts by outcome",
	}, []string{"outcome"})

	logins := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_logins_total",
		Help: "Login attempts by outcome",
	}, []string{"outcome"})

	lockouts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_lockouts_total",
		Help: "Accounts locked after repeated failures",
	})

	refreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_refresh_total",
		Help: "Refresh token rotations by outcome",
	}, []string{"outcome"})

	reuseDetected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_reuse_detected_total",
		Help: "Rotated refresh tokens presented again",
	})

	chainRevocations := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_refresh_chain_revocations_total",
		Help: "Refresh tokens revoked by chain revocation",
	})

	passwordHashTime := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "auth_password_hash_seconds",
		Help:    "Time spent deriving password digests",
		Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2},
	})

	auditDropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_audit_dropped_total",
		Help: "Failed audit record writes",
	})

	rateLimitRejected := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_rate_limited_total",
		Help: "Requests rejected by the auth rate limiter",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		requestDuration, requestTotal,
		registrations, logins, lockouts, refreshes, reuseDetected, chainRevocations,
		passwordHashTime, auditDropped, rateLimitRejected, goroutines,
	)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		registrations:     registrations,
		logins:            logins,
		lockouts:          lockouts,
		refreshes:         refreshes,
		reuseDetected:     reuseDetected,
		chainRevocations:  chainRevocations,
		passwordHashTime:  passwordHashTime,
		auditDropped:      auditDropped,
		rateLimitRejected: rateLimitRejected,
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

// Registry returns the underlying registry.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordRegistration counts a registration attempt.
func (m *MetricsService) RecordRegistration(outcome string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(outcome).Inc()
}

// RecordLogin counts a login attempt.
func (m *MetricsService) RecordLogin(outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(outcome).Inc()
}

// RecordLockout counts an account entering the locked state.
func (m *MetricsService) RecordLockout() {
	if m == nil {
		return
	}
	m.lockouts.Inc()
}

// RecordRefresh counts a rotation attempt.
func (m *MetricsService) RecordRefresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

// RecordReuseDetected counts a replayed refresh token.
func (m *MetricsService) RecordReuseDetected() {
	if m == nil {
		return
	}
	m.reuseDetected.Inc()
}

// RecordChainRevocations adds n revoked chain links.
func (m *MetricsService) RecordChainRevocations(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.chainRevocations.Add(float64(n))
}

// ObservePasswordHash records the duration of a digest derivation.
func (m *MetricsService) ObservePasswordHash(duration time.Duration) {
	if m == nil {
		return
	}
	m.passwordHashTime.Observe(duration.Seconds())
}

// RecordAuditDropped counts a failed audit write.
func (m *MetricsService) RecordAuditDropped() {
	if m == nil {
		return
	}
	m.auditDropped.Inc()
}

// RecordRateLimited counts a request rejected by the rate limiter.
func (m *MetricsService) RecordRateLimited() {
	if m == nil {
		return
	}
	m.rateLimitRejected.Inc()
}
