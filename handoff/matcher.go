// Package handoff moves a conversation from one agent to another: a
// matcher picks the target among capability-qualified candidates, a
// policy decides when the transfer happens, and a transfer mode decides
// how much context travels with it.
package handoff

import (
	"context"
	"sync"

	"github.com/BaSui01/agentgraph/registry"
	"github.com/BaSui01/agentgraph/types"
)

// Matcher picks the handoff target from candidates that already satisfy
// the required capabilities. Candidates arrive in registration order.
type Matcher interface {
	Match(ctx context.Context, required []string, candidates []types.Participant) (types.Participant, error)
}

func noCandidates() error {
	return types.NewError(types.ErrRouting, "no candidate satisfies the required capabilities")
}

// FirstFitMatcher takes the earliest registered qualifying candidate.
type FirstFitMatcher struct{}

func (FirstFitMatcher) Match(_ context.Context, _ []string, candidates []types.Participant) (types.Participant, error) {
	if len(candidates) == 0 {
		return types.Participant{}, noCandidates()
	}
	return candidates[0], nil
}

// BestFitMatcher prefers the candidate with the smallest capability set
// that still covers the requirement: a specialist over a generalist.
// Ties go to the earlier registration.
type BestFitMatcher struct{}

func (BestFitMatcher) Match(_ context.Context, _ []string, candidates []types.Participant) (types.Participant, error) {
	if len(candidates) == 0 {
		return types.Participant{}, noCandidates()
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if len(c.Capabilities) < len(best.Capabilities) {
			best = c
		}
	}
	return best, nil
}

// RoundRobinMatcher rotates through qualifying candidates across calls.
type RoundRobinMatcher struct {
	mu   sync.Mutex
	next int
}

func (m *RoundRobinMatcher) Match(_ context.Context, _ []string, candidates []types.Participant) (types.Participant, error) {
	if len(candidates) == 0 {
		return types.Participant{}, noCandidates()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	picked := candidates[m.next%len(candidates)]
	m.next++
	return picked, nil
}

// LeastLoadedMatcher consults the registry's load counters and picks the
// candidate with the fewest in-flight handoffs, ties by registration
// order.
type LeastLoadedMatcher struct {
	Registry registry.Registry
}

func (m *LeastLoadedMatcher) Match(ctx context.Context, _ []string, candidates []types.Participant) (types.Participant, error) {
	if len(candidates) == 0 {
		return types.Participant{}, noCandidates()
	}
	if m.Registry == nil {
		return types.Participant{}, types.NewError(types.ErrValidation, "least-loaded matcher has no registry")
	}
	best := candidates[0]
	bestLoad, err := m.Registry.CurrentLoad(ctx, best.ID)
	if err != nil {
		return types.Participant{}, err
	}
	for _, c := range candidates[1:] {
		load, err := m.Registry.CurrentLoad(ctx, c.ID)
		if err != nil {
			return types.Participant{}, err
		}
		if load < bestLoad {
			best = c
			bestLoad = load
		}
	}
	return best, nil
}
