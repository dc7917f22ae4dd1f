// Package metrics provides internal prometheus collectors.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles the runtime's prometheus instruments.
type Collector struct {
	registry *prometheus.Registry

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	agentRequestsTotal *prometheus.CounterVec
	messagesTotal      *prometheus.CounterVec
	tasksTotal         *prometheus.CounterVec
	votesFinalized     prometheus.Counter
	activeThreads      prometheus.Gauge
	registeredAgents   prometheus.Gauge
}

// NewCollector creates a collector on its own registry.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		agentRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_requests_total",
				Help:      "Total number of agent inference requests",
			},
			[]string{"status"},
		),
		messagesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_total",
				Help:      "Total number of bus messages",
			},
			[]string{"kind"},
		),
		tasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Total number of scheduled tasks by terminal status",
			},
			[]string{"status"},
		),
		votesFinalized: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "votes_finalized_total",
				Help:      "Total number of finalized consensus votes",
			},
		),
		activeThreads: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "conversation_threads",
				Help:      "Number of live conversation threads",
			},
		),
		registeredAgents: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "registered_agents",
				Help:      "Number of registered agents",
			},
		),
	}
}

// Handler serves the collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveHTTP records one handled HTTP request.
func (c *Collector) ObserveHTTP(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveAgentRequest records one agent request outcome.
func (c *Collector) ObserveAgentRequest(status string) {
	c.agentRequestsTotal.WithLabelValues(status).Inc()
}

// ObserveMessage records one bus message.
func (c *Collector) ObserveMessage(kind string) {
	c.messagesTotal.WithLabelValues(kind).Inc()
}

// ObserveTask records one task reaching a terminal status.
func (c *Collector) ObserveTask(status string) {
	c.tasksTotal.WithLabelValues(status).Inc()
}

// ObserveVoteFinalized records one decided ballot.
func (c *Collector) ObserveVoteFinalized() {
	c.votesFinalized.Inc()
}

// SetActiveThreads updates the live thread gauge.
func (c *Collector) SetActiveThreads(n int) {
	c.activeThreads.Set(float64(n))
}

// SetRegisteredAgents updates the registered agent gauge.
func (c *Collector) SetRegisteredAgents(n int) {
	c.registeredAgents.Set(float64(n))
}
