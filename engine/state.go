package engine

// RunState represents the lifecycle state of one execution.
type RunState string

const (
	// StatePending is the initial state before the run loop starts.
	StatePending RunState = "pending"
	// StateRunning indicates the run loop is advancing the frontier.
	StateRunning RunState = "running"
	// StateWaiting indicates the execution is suspended on an approval
	// gate and holds a resumption token (the pending checkpoint id).
	StateWaiting RunState = "waiting"
	// StateCompleted is terminal: an end node was reached.
	StateCompleted RunState = "completed"
	// StateFailed is terminal unless manually retried.
	StateFailed RunState = "failed"
)

// Terminal reports whether the state admits no further transitions except
// the manual retry path out of StateFailed.
func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// validTransitions enumerates the allowed state machine moves.
var validTransitions = map[RunState][]RunState{
	StatePending: {StateRunning, StateFailed},
	StateRunning: {StateWaiting, StateCompleted, StateFailed},
	StateWaiting: {StateRunning, StateFailed},
	StateFailed:  {StateRunning}, // manual retry re-enters at the failed node
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to RunState) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
