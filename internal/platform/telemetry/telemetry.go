// Package telemetry exposes Prometheus metrics for the HTTP surface, the
// record store pool and domain events.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var defaultDurationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5}

// Provider owns a private registry so that tests and multiple servers in one
// process do not collide on metric registration.
type Provider struct {
	reg *prometheus.Registry

	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	activeRequests prometheus.Gauge
	poolConns      *prometheus.GaugeVec
	domainEvents   *prometheus.CounterVec
}

func NewProvider(serviceName string) *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(prometheus.WrapRegistererWith(prometheus.Labels{"service": serviceName}, reg))

	return &Provider{
		reg: reg,
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_server_requests_total",
			Help: "Total HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_server_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: defaultDurationBuckets,
		}, []string{"method", "route"}),
		activeRequests: f.NewGauge(prometheus.GaugeOpts{
			Name: "http_server_active_requests",
			Help: "Number of in-flight HTTP requests.",
		}),
		poolConns: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "store_pool_connections",
			Help: "Record store connection pool connections by state.",
		}, []string{"state"}),
		domainEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "domain_events_total",
			Help: "Domain events by domain and event.",
		}, []string{"domain", "event"}),
	}
}

// Registry exposes the underlying registry for tests.
func (p *Provider) Registry() *prometheus.Registry { return p.reg }

// MetricsMiddleware records request count, latency and in-flight requests.
// It must run outside the error rendering middleware to see final statuses.
func (p *Provider) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p.activeRequests.Inc()
			defer p.activeRequests.Dec()

			start := time.Now()
			err := next(c)

			// Route pattern, not the raw path, to keep cardinality bounded.
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			p.requests.WithLabelValues(method, route, strconv.Itoa(c.Response().Status)).Inc()
			p.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// PrometheusHandler serves the registry in the Prometheus exposition format.
func (p *Provider) PrometheusHandler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{}))
}

// SetPoolStats publishes connection pool gauges.
func (p *Provider) SetPoolStats(total, idle, acquired int32) {
	p.poolConns.WithLabelValues("total").Set(float64(total))
	p.poolConns.WithLabelValues("idle").Set(float64(idle))
	p.poolConns.WithLabelValues("acquired").Set(float64(acquired))
}

// DomainEvent counts a business event such as an appointment booking.
func (p *Provider) DomainEvent(domain, event string) {
	p.domainEvents.WithLabelValues(domain, event).Inc()
}
