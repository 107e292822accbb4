package checkpoint

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. A single mutex serializes decisions,
// which gives the first-committer-wins guarantee for free.
type MemoryStore struct {
	mu     sync.Mutex
	points map[string]*Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{points: make(map[string]*Checkpoint)}
}

func (s *MemoryStore) Create(_ context.Context, cp *Checkpoint) error {
	stamp(cp)
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *cp
	s.points[cp.ID] = &clone
	return nil
}

func (s *MemoryStore) Decide(_ context.Context, id string, approved bool, decidedBy string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.points[id]
	if !ok {
		return nil, notFound(id)
	}
	if cp.Status != StatusPending {
		return nil, alreadyDecided(cp)
	}
	now := time.Now()
	cp.Status = decidedStatus(approved)
	cp.DecidedBy = decidedBy
	cp.DecidedAt = &now
	clone := *cp
	return &clone, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.points[id]
	if !ok {
		return nil, notFound(id)
	}
	clone := *cp
	return &clone, nil
}

func (s *MemoryStore) ListPending(_ context.Context, executionID string) ([]*Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Checkpoint
	for _, cp := range s.points {
		if cp.Status != StatusPending {
			continue
		}
		if executionID != "" && cp.ExecutionID != executionID {
			continue
		}
		clone := *cp
		out = append(out, &clone)
	}
	return out, nil
}

func (s *MemoryStore) Expire(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.points[id]
	if !ok {
		return notFound(id)
	}
	if cp.Status == StatusPending {
		cp.Status = StatusExpired
	}
	return nil
}
