// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector registers and updates the process-wide Prometheus metrics. It
// satisfies the engine's Metrics interface.
type Collector struct {
	// execution engine
	executionsTotal     *prometheus.CounterVec
	nodeExecutions      *prometheus.CounterVec
	nodeDuration        *prometheus.HistogramVec
	stateTransitions    *prometheus.CounterVec
	gatewayJoins        *prometheus.CounterVec
	checkpointDecisions *prometheus.CounterVec

	// group chat
	chatsTotal *prometheus.CounterVec
	chatRounds *prometheus.HistogramVec

	// handoff
	handoffsTotal *prometheus.CounterVec

	// HTTP surface
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers the metrics on the default Prometheus registry.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer, namespace, logger)
}

// NewCollectorWith registers the metrics on the given registerer. Tests
// pass a fresh registry to avoid duplicate registration panics.
func NewCollectorWith(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Collector {
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.executionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of settled executions by final state",
		},
		[]string{"state"},
	)

	c.nodeExecutions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_executions_total",
			Help:      "Total number of node executions",
		},
		[]string{"kind", "success"},
	)

	c.nodeDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "node_duration_seconds",
			Help:      "Node execution duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	c.stateTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Total number of execution state transitions",
		},
		[]string{"from", "to"},
	)

	c.gatewayJoins = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_joins_total",
			Help:      "Total number of gateway join resolutions",
		},
		[]string{"policy", "outcome"},
	)

	c.checkpointDecisions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_decisions_total",
			Help:      "Total number of approval checkpoint lifecycle events",
		},
		[]string{"status"},
	)

	c.chatsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chats_total",
			Help:      "Total number of finished group chats by status",
		},
		[]string{"status"},
	)

	c.chatRounds = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_rounds",
			Help:      "Rounds per finished group chat",
			Buckets:   []float64{1, 2, 5, 10, 20, 50, 100},
		},
		[]string{"status"},
	)

	c.handoffsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_total",
			Help:      "Total number of handoff attempts by policy and outcome",
		},
		[]string{"policy", "outcome"},
	)

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	return c
}

func (c *Collector) ObserveExecution(state string) {
	c.executionsTotal.WithLabelValues(state).Inc()
}

func (c *Collector) ObserveNode(kind string, duration time.Duration, success bool) {
	outcome := "false"
	if success {
		outcome = "true"
	}
	c.nodeExecutions.WithLabelValues(kind, outcome).Inc()
	c.nodeDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (c *Collector) ObserveStateTransition(from, to string) {
	c.stateTransitions.WithLabelValues(from, to).Inc()
}

func (c *Collector) ObserveGatewayJoin(policy, outcome string) {
	c.gatewayJoins.WithLabelValues(policy, outcome).Inc()
}

func (c *Collector) ObserveCheckpoint(status string) {
	c.checkpointDecisions.WithLabelValues(status).Inc()
}

func (c *Collector) ObserveChat(status string, rounds int) {
	c.chatsTotal.WithLabelValues(status).Inc()
	c.chatRounds.WithLabelValues(status).Observe(float64(rounds))
}

func (c *Collector) ObserveHandoff(policy, outcome string) {
	c.handoffsTotal.WithLabelValues(policy, outcome).Inc()
}

func (c *Collector) ObserveHTTP(method, path, status string, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
