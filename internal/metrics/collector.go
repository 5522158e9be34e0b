// Package metrics exposes gateway activity as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricNamespace = "mcp_openapi"

// Collector owns a private registry so several gateways (and tests) can
// coexist in one process.
type Collector struct {
	registry *prometheus.Registry

	invocationsTotal   *prometheus.CounterVec
	invocationDuration *prometheus.HistogramVec
	sessionsActive     *prometheus.GaugeVec
	namespaceTools     *prometheus.GaugeVec
	namespaceLoads     *prometheus.CounterVec
	httpRequestsTotal  *prometheus.CounterVec
}

// NewCollector creates a Collector with Go runtime and process metrics
// registered alongside the gateway metrics.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		invocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "invocations_total",
				Help:      "Total number of tool invocations by outcome",
			},
			[]string{"namespace", "tool", "outcome"},
		),
		invocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricNamespace,
				Name:      "invocation_duration_seconds",
				Help:      "Tool invocation duration in seconds, upstream call included",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"namespace"},
		),
		sessionsActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      "sessions_active",
				Help:      "Number of open MCP sessions",
			},
			[]string{"namespace"},
		),
		namespaceTools: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      "namespace_tools",
				Help:      "Number of tools installed in a namespace",
			},
			[]string{"namespace"},
		),
		namespaceLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "namespace_loads_total",
				Help:      "Namespace load attempts by result",
			},
			[]string{"namespace", "result"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests served",
			},
			[]string{"method", "status"},
		),
	}
}

// ObserveInvocation records one finished tool invocation.
func (c *Collector) ObserveInvocation(namespace, tool, outcome string, elapsed time.Duration) {
	c.invocationsTotal.WithLabelValues(namespace, tool, outcome).Inc()
	c.invocationDuration.WithLabelValues(namespace).Observe(elapsed.Seconds())
}

// SessionOpened increments the open session gauge.
func (c *Collector) SessionOpened(namespace string) {
	c.sessionsActive.WithLabelValues(namespace).Inc()
}

// SessionClosed decrements the open session gauge.
func (c *Collector) SessionClosed(namespace string) {
	c.sessionsActive.WithLabelValues(namespace).Dec()
}

// NamespaceLoaded records a load attempt. tools is ignored on failure.
func (c *Collector) NamespaceLoaded(namespace, result string, tools int) {
	c.namespaceLoads.WithLabelValues(namespace, result).Inc()
	if result == "ok" {
		c.namespaceTools.WithLabelValues(namespace).Set(float64(tools))
	}
}

// NamespaceRemoved drops the per-namespace gauges.
func (c *Collector) NamespaceRemoved(namespace string) {
	c.namespaceTools.DeleteLabelValues(namespace)
	c.sessionsActive.DeleteLabelValues(namespace)
}

// ObserveHTTP records one served HTTP request.
func (c *Collector) ObserveHTTP(method string, status int) {
	c.httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

// Registry returns the private registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
