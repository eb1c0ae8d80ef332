package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "openmcp"

// Collector holds the wallet daemon's metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	transitions  *prometheus.CounterVec
	handshakes   *prometheus.HistogramVec
	relayed      *prometheus.CounterVec
	relayDropped prometheus.Counter
	requests     *prometheus.CounterVec
	requestErrs  *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

// New registers every wallet and HTTP metric, plus the Go runtime and
// process collectors, on a fresh registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "transitions_total",
			Help:      "Wallet adapter state transitions.",
		}, []string{"adapter", "from", "to"}),
		handshakes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "handshake_duration_seconds",
			Help:      "Wallet connect handshake duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120},
		}, []string{"adapter", "outcome"}),
		relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "relay_deliveries_total",
			Help:      "Lifecycle records delivered to relay sinks.",
		}, []string{"sink", "result"}),
		relayDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "wallet",
			Name:      "relay_dropped_total",
			Help:      "Lifecycle records dropped because the relay buffer was full.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		requestErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
	}
	c.registry.MustRegister(
		c.transitions,
		c.handshakes,
		c.relayed,
		c.relayDropped,
		c.requests,
		c.requestErrs,
		c.latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// ObserveTransition counts a state transition of the orchestrator.
func (c *Collector) ObserveTransition(adapter, from, to string) {
	c.transitions.WithLabelValues(adapter, from, to).Inc()
}

// ObserveHandshake records how long a connect attempt took and how it ended.
func (c *Collector) ObserveHandshake(adapter, outcome string, duration time.Duration) {
	c.handshakes.WithLabelValues(adapter, outcome).Observe(duration.Seconds())
}

// ObserveRelay counts one delivery attempt of a lifecycle record to sink.
func (c *Collector) ObserveRelay(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.relayed.WithLabelValues(sink, result).Inc()
}

// ObserveRelayDropped counts a lifecycle record dropped on a full buffer.
func (c *Collector) ObserveRelayDropped() {
	c.relayDropped.Inc()
}
