package registry

import (
	"context"
	"sync"

	"github.com/BaSui01/agentgraph/types"
)

// MemoryRegistry is an in-process Registry. Registration order is kept in
// a separate slice so listings stay deterministic.
type MemoryRegistry struct {
	mu           sync.RWMutex
	participants map[string]types.Participant
	order        []string
	loads        map[string]int
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		participants: make(map[string]types.Participant),
		loads:        make(map[string]int),
	}
}

func (r *MemoryRegistry) Register(_ context.Context, p types.Participant) error {
	if p.ID == "" {
		return types.NewError(types.ErrValidation, "participant id is empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.participants[p.ID]; !exists {
		r.order = append(r.order, p.ID)
	}
	r.participants[p.ID] = p
	return nil
}

func (r *MemoryRegistry) Unregister(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.participants[id]; !exists {
		return notFound(id)
	}
	delete(r.participants, id)
	delete(r.loads, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *MemoryRegistry) Get(_ context.Context, id string) (*types.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.participants[id]
	if !ok {
		return nil, notFound(id)
	}
	return &p, nil
}

func (r *MemoryRegistry) List(_ context.Context) ([]types.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Participant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.participants[id])
	}
	return out, nil
}

func (r *MemoryRegistry) FindByCapabilities(ctx context.Context, required []string) ([]types.Participant, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	var out []types.Participant
	for _, p := range all {
		if HasAll(p, required) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *MemoryRegistry) IncrementLoad(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.participants[id]; !exists {
		return notFound(id)
	}
	r.loads[id]++
	return nil
}

func (r *MemoryRegistry) DecrementLoad(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.participants[id]; !exists {
		return notFound(id)
	}
	if r.loads[id] > 0 {
		r.loads[id]--
	}
	return nil
}

func (r *MemoryRegistry) CurrentLoad(_ context.Context, id string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, exists := r.participants[id]; !exists {
		return 0, notFound(id)
	}
	return r.loads[id], nil
}
