// Package engine executes workflow graphs. It walks a graph.Graph from the
// start node, dispatching each node kind through an exhaustive switch,
// maintains the run state machine (Pending, Running, Waiting, Completed,
// Failed), and implements the concurrent gateway join semantics and the
// approval-gate suspension protocol.
//
// One Engine serves many concurrent executions. Each execution owns its
// ExecutionContext exclusively; the graph instance is immutable and shared.
// Node executions within one run are sequential except inside a gateway's
// branch set, which runs on goroutines behind a join barrier.
package engine
