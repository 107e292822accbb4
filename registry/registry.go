// Package registry tracks the participants available for routing: their
// declared capabilities and their current load. Capability matching is by
// set containment, and listings preserve registration order so order-based
// tie-breaking stays deterministic.
package registry

import (
	"context"

	"github.com/BaSui01/agentgraph/types"
)

// Registry is the participant directory consulted by handoff routing and
// group chats.
type Registry interface {
	// Register adds a participant. Re-registering an existing ID updates
	// the record but keeps its original position.
	Register(ctx context.Context, p types.Participant) error
	// Unregister removes a participant and its load counter.
	Unregister(ctx context.Context, id string) error
	// Get returns one participant by ID.
	Get(ctx context.Context, id string) (*types.Participant, error)
	// List returns all participants in registration order.
	List(ctx context.Context) ([]types.Participant, error)
	// FindByCapabilities returns the participants whose capability set
	// contains every required capability, in registration order.
	FindByCapabilities(ctx context.Context, required []string) ([]types.Participant, error)
	// IncrementLoad bumps the participant's in-flight work counter.
	IncrementLoad(ctx context.Context, id string) error
	// DecrementLoad releases one unit of in-flight work. The counter
	// never goes below zero.
	DecrementLoad(ctx context.Context, id string) error
	// CurrentLoad returns the participant's in-flight work counter.
	CurrentLoad(ctx context.Context, id string) (int, error)
}

// HasAll reports whether the participant's capabilities contain every
// required one. An empty requirement matches everyone.
func HasAll(p types.Participant, required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]bool, len(p.Capabilities))
	for _, c := range p.Capabilities {
		have[c] = true
	}
	for _, c := range required {
		if !have[c] {
			return false
		}
	}
	return true
}

func notFound(id string) error {
	return types.NewErrorf(types.ErrNotFound, "participant not found: %s", id)
}
