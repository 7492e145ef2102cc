// Package metrics holds the Prometheus collectors for the auth API.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	obserrors "github.com/mrpworks/mrp-auth/internal/observability/errors"
)

// Result constants for metric labelling.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// Metrics holds all Prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	LoginsTotal          *prometheus.CounterVec
	TokenChecksTotal     *prometheus.CounterVec
	SessionsRevokedTotal prometheus.Counter

	registry *prometheus.Registry
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mrp_auth_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mrp_auth_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mrp_auth_logins_total",
				Help: "Login attempts by result",
			},
			[]string{"result"},
		),
		TokenChecksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mrp_auth_token_checks_total",
				Help: "Bearer token validations by result",
			},
			[]string{"result"},
		),
		SessionsRevokedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "mrp_auth_sessions_revoked_total",
				Help: "Server-side sessions revoked by logout or role change",
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginsTotal,
		m.TokenChecksTotal,
		m.SessionsRevokedTotal,
	)
	return m
}

// Registry exposes the underlying registry, e.g. for promhttp or tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// resultLabel maps err to "success" or its classified error label.
func resultLabel(err error) string {
	if err == nil {
		return ResultSuccess
	}
	if class := obserrors.Classify(err); class != "" {
		return class
	}
	return ResultError
}

// ObserveLogin records a login attempt outcome.
func (m *Metrics) ObserveLogin(err error) {
	if m == nil {
		return
	}
	m.LoginsTotal.WithLabelValues(resultLabel(err)).Inc()
}

// ObserveTokenCheck records a bearer token validation outcome.
func (m *Metrics) ObserveTokenCheck(err error) {
	if m == nil {
		return
	}
	m.TokenChecksTotal.WithLabelValues(resultLabel(err)).Inc()
}

// AddSessionsRevoked records n revoked sessions.
func (m *Metrics) AddSessionsRevoked(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsRevokedTotal.Add(float64(n))
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
