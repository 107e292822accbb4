package engine

import (
	"sync"
	"time"
)

// EventType defines the type of an execution stream event.
type EventType string

const (
	// EventExecutionStarted is emitted once when the run loop begins.
	EventExecutionStarted EventType = "execution_started"
	// EventNodeStart is emitted before a node executes.
	EventNodeStart EventType = "node_start"
	// EventNodeComplete is emitted after a node finishes successfully.
	EventNodeComplete EventType = "node_complete"
	// EventNodeError is emitted when a node reports failure.
	EventNodeError EventType = "node_error"
	// EventStateChange is emitted on every run state transition.
	EventStateChange EventType = "state_change"
	// EventCheckpointCreated is emitted when an approval gate suspends
	// the execution and a checkpoint is pending.
	EventCheckpointCreated EventType = "checkpoint_created"
)

// Event carries information about one execution occurrence.
type Event struct {
	Type         EventType `json:"type"`
	ExecutionID  string    `json:"execution_id"`
	NodeID       string    `json:"node_id,omitempty"`
	State        RunState  `json:"state,omitempty"`
	CheckpointID string    `json:"checkpoint_id,omitempty"`
	Data         any       `json:"data,omitempty"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Emitter is a callback that receives execution events.
type Emitter func(Event)

// broadcaster fans execution events out to per-execution subscribers.
// Slow subscribers drop events rather than stall the run loop.
type broadcaster struct {
	subs map[string][]chan Event
	mu   sync.RWMutex
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[string][]chan Event)}
}

func (b *broadcaster) publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[ev.ExecutionID] {
		select {
		case ch <- ev:
		default:
		}
	}
	// Subscribers under the empty key receive every execution's events.
	if ev.ExecutionID != "" {
		for _, ch := range b.subs[""] {
			select {
			case ch <- ev:
			default:
			}
		}
	}
}

func (b *broadcaster) subscribe(executionID string) (<-chan Event, func()) {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subs[executionID] = append(b.subs[executionID], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		chans := b.subs[executionID]
		for i, c := range chans {
			if c == ch {
				b.subs[executionID] = append(chans[:i], chans[i+1:]...)
				close(c)
				break
			}
		}
		if len(b.subs[executionID]) == 0 {
			delete(b.subs, executionID)
		}
	}
	return ch, cancel
}
