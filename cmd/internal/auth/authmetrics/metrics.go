// Package authmetrics holds the Prometheus collectors of the auth subsystem.
//
// Every method is safe on a nil *Metrics, so components can run without
// instrumentation (tests, CLI one-shots).
package authmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gatehouse"

// Login results.
const (
	LoginSuccess     = "success"
	LoginInvalid     = "invalid_credentials"
	LoginRateLimited = "rate_limited"
	LoginError       = "error"
)

// Metrics groups the collectors.
type Metrics struct {
	loginAttempts   *prometheus.CounterVec
	tokensRejected *prometheus.CounterVec
	rateLimited     *prometheus.CounterVec
	storageErrors   *prometheus.CounterVec
	sessionsIssued  *prometheus.CounterVec
	sessionsRevoked *prometheus.CounterVec

	sweepRemoved  prometheus.Counter
	sweepFailures prometheus.Counter
	sweepDuration prometheus.Histogram

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		loginAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "login_attempts_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		tokensRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "token_rejected_total",
			Help:      "Bearer tokens rejected by the interceptor, by internal reason.",
		}, []string{"reason"}),
		rateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "denied_total",
			Help:      "Requests denied by the rate limiter, by endpoint class.",
		}, []string{"class"}),
		storageErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "storage_errors_total",
			Help:      "Storage failures surfaced by auth operations.",
		}, []string{"op"}),
		sessionsIssued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "issued_total",
			Help:      "Sessions created, by origin (login, refresh).",
		}, []string{"origin"}),
		sessionsRevoked: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "revoked_total",
			Help:      "Sessions revoked, by cause (logout, logout_all).",
		}, []string{"cause"}),
		sweepRemoved: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "swept_total",
			Help:      "Expired sessions removed by sweeps.",
		}),
		sweepFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "sweep_failures_total",
			Help:      "Sweeps that failed.",
		}),
		sweepDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of expired-session sweeps.",
			Buckets:   prometheus.DefBuckets,
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status class.",
		}, []string{"route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Login counts one login attempt outcome.
func (m *Metrics) Login(result string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(result).Inc()
}

// TokenRejected counts one interceptor rejection.
func (m *Metrics) TokenRejected(reason string) {
	if m == nil {
		return
	}
	m.tokensRejected.WithLabelValues(reason).Inc()
}

// RateLimited counts one denial for class.
func (m *Metrics) RateLimited(class string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(class).Inc()
}

// StorageError counts one storage failure for op.
func (m *Metrics) StorageError(op string) {
	if m == nil {
		return
	}
	m.storageErrors.WithLabelValues(op).Inc()
}

// SessionIssued counts one created session.
func (m *Metrics) SessionIssued(origin string) {
	if m == nil {
		return
	}
	m.sessionsIssued.WithLabelValues(origin).Inc()
}

// SessionsRevoked counts n revoked sessions.
func (m *Metrics) SessionsRevoked(cause string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsRevoked.WithLabelValues(cause).Add(float64(n))
}

// Sweep records one sweep outcome. Its signature matches session.SweepObserver.
func (m *Metrics) Sweep(removed int64, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(took.Seconds())
	if err != nil {
		m.sweepFailures.Inc()
		return
	}
	if removed > 0 {
		m.sweepRemoved.Add(float64(removed))
	}
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(route, statusClass string, took time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, statusClass).Inc()
	m.httpDuration.WithLabelValues(route).Observe(took.Seconds())
}
