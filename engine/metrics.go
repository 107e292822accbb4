package engine

import "time"

// Metrics is the observation seam between the engine and the process-wide
// Prometheus collector. The default is a no-op so embedding the engine in
// tests requires no registry.
type Metrics interface {
	ObserveExecution(state string)
	ObserveNode(kind string, duration time.Duration, success bool)
	ObserveStateTransition(from, to string)
	ObserveGatewayJoin(policy, outcome string)
	ObserveCheckpoint(status string)
}

type noopMetrics struct{}

func (noopMetrics) ObserveExecution(string)                    {}
func (noopMetrics) ObserveNode(string, time.Duration, bool)    {}
func (noopMetrics) ObserveStateTransition(string, string)      {}
func (noopMetrics) ObserveGatewayJoin(string, string)          {}
func (noopMetrics) ObserveCheckpoint(string)                   {}
