// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "rcm",
		Name:      "http_in_flight_requests",
		Help:      "In-flight HTTP requests.",
	})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rcm",
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "rcm",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latencies in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route", "status"})

	RBACCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rcm",
		Name:      "rbac_cache_lookups_total",
		Help:      "RBAC cache lookups by cache and result (hit or miss).",
	}, []string{"cache", "result"})

	AuthzDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rcm",
		Name:      "authz_decisions_total",
		Help:      "Enforced authorization decisions by outcome.",
	}, []string{"outcome"})

	AuditWriteFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rcm",
		Name:      "audit_write_failures_total",
		Help:      "Audit records that could not be written, by sink.",
	}, []string{"sink"})

	AuditEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rcm",
		Name:      "audit_events_total",
		Help:      "Audit records produced, by category.",
	}, []string{"category"})

	CryptoFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rcm",
		Name:      "crypto_failures_total",
		Help:      "Field encryption failures by operation.",
	}, []string{"op"})
)

var registerOnce sync.Once

// Register adds every collector to the default registry. It is safe to call
// more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			HTTPInFlight,
			HTTPRequestsTotal,
			HTTPRequestDuration,
			RBACCacheLookups,
			AuthzDecisions,
			AuditWriteFailures,
			AuditEvents,
			CryptoFailures,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count, latency and in-flight requests labelled
// by the matched route rather than the raw path.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			HTTPInFlight.Inc()
			defer HTTPInFlight.Dec()

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else if status < http.StatusBadRequest {
					status = http.StatusInternalServerError
				}
			}

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			labels := []string{c.Request().Method, route, strconv.Itoa(status)}
			HTTPRequestsTotal.WithLabelValues(labels...).Inc()
			HTTPRequestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
