// Package metrics holds the Prometheus collectors exported on /metrics.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "oauthd"

// Metrics groups the collectors recorded by the provider and HTTP layer.
type Metrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	issued   *prometheus.CounterVec
	revoked  *prometheus.CounterVec
	lookups  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_issued_total",
			Help:      "Credentials persisted through the provider, by token type.",
		}, []string{"type"}),
		revoked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tokens_revoked_total",
			Help:      "Credentials revoked through the provider, by token type.",
		}, []string{"type"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_lookups_total",
			Help:      "Credential retrievals by token type and result (valid, invalid).",
		}, []string{"type", "result"}),
	}

	reg.MustRegister(m.requests, m.latency, m.issued, m.revoked, m.lookups)

	return m
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route, code string, seconds float64) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, route, code).Inc()
	m.latency.WithLabelValues(method, route).Observe(seconds)
}

// TokenIssued records a persisted credential.
func (m *Metrics) TokenIssued(typ string) {
	if m == nil {
		return
	}
	m.issued.WithLabelValues(typ).Inc()
}

// TokenRevoked records a successful revocation.
func (m *Metrics) TokenRevoked(typ string) {
	if m == nil {
		return
	}
	m.revoked.WithLabelValues(typ).Inc()
}

// TokenLookup records a retrieval outcome.
func (m *Metrics) TokenLookup(typ string, valid bool) {
	if m == nil {
		return
	}
	result := "invalid"
	if valid {
		result = "valid"
	}
	m.lookups.WithLabelValues(typ, result).Inc()
}
