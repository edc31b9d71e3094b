// Package metrics exposes Prometheus instrumentation for the HTTP surface and
// the upload workflow. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docsum"

type Metrics struct {
	registry *prometheus.Registry

	requestTotal    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	requestInFlight prometheus.Gauge

	submissionsTotal   *prometheus.CounterVec
	submissionDuration *prometheus.HistogramVec
	dropsRejected      *prometheus.CounterVec
	activeSessions     prometheus.Gauge
	breakerState       *prometheus.GaugeVec
}

func New(service string) *Metrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	m := &Metrics{
		registry: registry,
		requestTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "http",
				Name:        "requests_total",
				Help:        "Total HTTP requests processed.",
				ConstLabels: constLabels,
			},
			[]string{"method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   "http",
				Name:        "request_duration_seconds",
				Help:        "HTTP request duration in seconds.",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: constLabels,
			},
			[]string{"method", "path"},
		),
		requestInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "http",
				Name:        "in_flight_requests",
				Help:        "Number of in-flight HTTP requests.",
				ConstLabels: constLabels,
			},
		),
		submissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "workflow",
				Name:        "submissions_total",
				Help:        "Completed submissions by outcome (success, service_error, transport_error).",
				ConstLabels: constLabels,
			},
			[]string{"outcome"},
		),
		submissionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   "workflow",
				Name:        "submission_duration_seconds",
				Help:        "Time from submit to result, in seconds.",
				Buckets:     []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
				ConstLabels: constLabels,
			},
			[]string{"length"},
		),
		dropsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "workflow",
				Name:        "drops_rejected_total",
				Help:        "Dropped files refused before submission, by reason.",
				ConstLabels: constLabels,
			},
			[]string{"reason"},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "session",
				Name:        "active",
				Help:        "Number of live workbench sessions.",
				ConstLabels: constLabels,
			},
		),
		breakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace:   namespace,
				Subsystem:   "analysis",
				Name:        "breaker_state",
				Help:        "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
				ConstLabels: constLabels,
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		m.requestTotal,
		m.requestDuration,
		m.requestInFlight,
		m.submissionsTotal,
		m.submissionDuration,
		m.dropsRejected,
		m.activeSessions,
		m.breakerState,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request count, latency and in-flight requests. Paths are
// labelled by their registered route so ids do not explode cardinality.
func (m *Metrics) Middleware(skipper func(c echo.Context) bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil || (skipper != nil && skipper(c)) {
				return next(c)
			}

			start := time.Now()
			m.requestInFlight.Inc()
			defer m.requestInFlight.Dec()

			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if sc, ok := err.(interface{ StatusCode() int }); ok {
					status = sc.StatusCode()
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			method := c.Request().Method

			m.requestTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
			m.requestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

func (m *Metrics) RecordSubmission(outcome, length string, d time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.submissionsTotal.WithLabelValues(outcome).Inc()
	m.submissionDuration.WithLabelValues(length).Observe(d.Seconds())
}

func (m *Metrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.dropsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

func (m *Metrics) SetBreakerState(operation string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(operation).Set(float64(state))
}
