package engine

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/agentgraph/graph"
)

// HistoryEntry records the execution of a single node.
type HistoryEntry struct {
	NodeID     string         `json:"node_id"`
	Kind       graph.NodeKind `json:"kind"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Success    bool           `json:"success"`
	Output     any            `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// ExecutionContext is the mutable per-run state: workflow variables, the
// append-only node history, and free-form metadata. It is owned by exactly
// one execution; nested child workflows derive a fresh context instead of
// sharing this one. Methods are safe for concurrent use because gateway
// branches may touch variables in parallel.
type ExecutionContext struct {
	executionID string
	variables   map[string]any
	history     []HistoryEntry
	metadata    map[string]any
	mu          sync.RWMutex
}

// NewExecutionContext creates a context for the given execution id.
func NewExecutionContext(executionID string) *ExecutionContext {
	return &ExecutionContext{
		executionID: executionID,
		variables:   make(map[string]any),
		metadata:    make(map[string]any),
	}
}

// ExecutionID returns the owning execution's id.
func (ec *ExecutionContext) ExecutionID() string { return ec.executionID }

// SetVariable sets a workflow variable.
func (ec *ExecutionContext) SetVariable(key string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.variables[key] = value
}

// GetVariable retrieves a workflow variable.
func (ec *ExecutionContext) GetVariable(key string) (any, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	v, ok := ec.variables[key]
	return v, ok
}

// Variables returns a copy of all workflow variables.
func (ec *ExecutionContext) Variables() map[string]any {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make(map[string]any, len(ec.variables))
	for k, v := range ec.variables {
		out[k] = v
	}
	return out
}

// SeedVariables merges the given map into the variable store. Used by the
// start node to load the initial invocation payload.
func (ec *ExecutionContext) SeedVariables(vars map[string]any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	for k, v := range vars {
		ec.variables[k] = v
	}
}

// AppendHistory appends a node execution record. History is append-only
// and ordered.
func (ec *ExecutionContext) AppendHistory(entry HistoryEntry) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.history = append(ec.history, entry)
}

// History returns a copy of the node execution records in order.
func (ec *ExecutionContext) History() []HistoryEntry {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	out := make([]HistoryEntry, len(ec.history))
	copy(out, ec.history)
	return out
}

// SetMetadata sets a metadata value.
func (ec *ExecutionContext) SetMetadata(key string, value any) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.metadata[key] = value
}

// GetMetadata retrieves a metadata value.
func (ec *ExecutionContext) GetMetadata(key string) (any, bool) {
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	v, ok := ec.metadata[key]
	return v, ok
}

// ContextSnapshot is the serializable form of an ExecutionContext.
type ContextSnapshot struct {
	ExecutionID string         `json:"execution_id"`
	Variables   map[string]any `json:"variables"`
	History     []HistoryEntry `json:"history"`
	Metadata    map[string]any `json:"metadata"`
}

// Snapshot captures the context state for persistence.
func (ec *ExecutionContext) Snapshot() *ContextSnapshot {
	ec.mu.RLock()
	defer ec.mu.RUnlock()

	snap := &ContextSnapshot{
		ExecutionID: ec.executionID,
		Variables:   make(map[string]any, len(ec.variables)),
		History:     make([]HistoryEntry, len(ec.history)),
		Metadata:    make(map[string]any, len(ec.metadata)),
	}
	for k, v := range ec.variables {
		snap.Variables[k] = v
	}
	copy(snap.History, ec.history)
	for k, v := range ec.metadata {
		snap.Metadata[k] = v
	}
	return snap
}

// FromSnapshot reconstructs an equivalent ExecutionContext: same keys and
// values, same history order.
func FromSnapshot(snap *ContextSnapshot) *ExecutionContext {
	ec := NewExecutionContext(snap.ExecutionID)
	for k, v := range snap.Variables {
		ec.variables[k] = v
	}
	ec.history = append(ec.history, snap.History...)
	for k, v := range snap.Metadata {
		ec.metadata[k] = v
	}
	return ec
}

// MarshalJSON serializes the context via its snapshot.
func (ec *ExecutionContext) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(ec.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("marshal execution context: %w", err)
	}
	return data, nil
}
