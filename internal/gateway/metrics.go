package gateway

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects gateway Prometheus metrics. A nil *Metrics is a valid
// no-op collector, which keeps handler tests lightweight.
type Metrics struct {
	registry *prometheus.Registry

	proxied      *prometheus.CounterVec
	proxyLatency *prometheus.HistogramVec
	breakerOpens *prometheus.CounterVec
}

// NewMetrics builds the gateway metric set on a private registry so the
// exposition endpoint carries only cartmesh series plus runtime collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		proxied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cartmesh",
			Subsystem: "gateway",
			Name:      "proxied_requests_total",
			Help:      "Requests forwarded through the gateway, by service and outcome.",
		}, []string{"service", "outcome"}),
		proxyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cartmesh",
			Subsystem: "gateway",
			Name:      "proxy_duration_seconds",
			Help:      "Time spent forwarding a request, by service.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"service"}),
		breakerOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cartmesh",
			Subsystem: "gateway",
			Name:      "breaker_opens_total",
			Help:      "Circuit breaker trips, by service.",
		}, []string{"service"}),
	}
	reg.MustRegister(
		m.proxied,
		m.proxyLatency,
		m.breakerOpens,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveProxy records one forwarded request.
func (m *Metrics) ObserveProxy(service, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.proxied.WithLabelValues(service, outcome).Inc()
	m.proxyLatency.WithLabelValues(service).Observe(elapsed.Seconds())
}

// BreakerOpened records a circuit trip.
func (m *Metrics) BreakerOpened(service string) {
	if m == nil {
		return
	}
	m.breakerOpens.WithLabelValues(service).Inc()
}

// Handler serves the Prometheus exposition endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
