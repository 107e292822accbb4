package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/BaSui01/agentgraph/types"
)

// ExecutionSnapshot is the persistent image of a suspended execution. It
// carries everything needed to rebuild the run after a restart: the graph
// name, the serialized variable scope and history, and the checkpoint the
// run is parked on.
type ExecutionSnapshot struct {
	ExecutionID  string           `json:"execution_id"`
	GraphName    string           `json:"graph_name"`
	State        RunState         `json:"state"`
	Context      *ContextSnapshot `json:"context"`
	PendingNode  string           `json:"pending_node,omitempty"`
	CheckpointID string           `json:"checkpoint_id,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// SnapshotStore persists execution snapshots across process restarts.
type SnapshotStore interface {
	Save(ctx context.Context, snap *ExecutionSnapshot) error
	Load(ctx context.Context, executionID string) (*ExecutionSnapshot, error)
	Delete(ctx context.Context, executionID string) error
	List(ctx context.Context) ([]*ExecutionSnapshot, error)
}

// MemorySnapshotStore keeps snapshots in process memory. Suitable for tests
// and single-process deployments that can tolerate losing suspended runs.
type MemorySnapshotStore struct {
	mu    sync.RWMutex
	snaps map[string]*ExecutionSnapshot
}

func NewMemorySnapshotStore() *MemorySnapshotStore {
	return &MemorySnapshotStore{snaps: make(map[string]*ExecutionSnapshot)}
}

func (s *MemorySnapshotStore) Save(_ context.Context, snap *ExecutionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *snap
	s.snaps[snap.ExecutionID] = &cp
	return nil
}

func (s *MemorySnapshotStore) Load(_ context.Context, executionID string) (*ExecutionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[executionID]
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "snapshot not found: %s", executionID)
	}
	cp := *snap
	return &cp, nil
}

func (s *MemorySnapshotStore) Delete(_ context.Context, executionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snaps, executionID)
	return nil
}

func (s *MemorySnapshotStore) List(_ context.Context) ([]*ExecutionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ExecutionSnapshot, 0, len(s.snaps))
	for _, snap := range s.snaps {
		cp := *snap
		out = append(out, &cp)
	}
	return out, nil
}

// snapshotRecord is the gorm row backing GormSnapshotStore. The context and
// pending-checkpoint fields are stored as a single JSON document so schema
// changes in ContextSnapshot do not require migrations.
type snapshotRecord struct {
	ExecutionID string    `gorm:"primaryKey;size:64"`
	GraphName   string    `gorm:"size:128;index"`
	State       string    `gorm:"size:16"`
	Payload     string    `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

func (snapshotRecord) TableName() string { return "execution_snapshots" }

// GormSnapshotStore persists snapshots through gorm. Works with any dialect
// the caller opens; the server wires it to SQLite by default.
type GormSnapshotStore struct {
	db *gorm.DB
}

func NewGormSnapshotStore(db *gorm.DB) (*GormSnapshotStore, error) {
	if err := db.AutoMigrate(&snapshotRecord{}); err != nil {
		return nil, types.NewError(types.ErrValidation, "migrate snapshot schema").WithCause(err)
	}
	return &GormSnapshotStore{db: db}, nil
}

func (s *GormSnapshotStore) Save(ctx context.Context, snap *ExecutionSnapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return types.NewError(types.ErrValidation, "encode snapshot").WithCause(err)
	}
	rec := snapshotRecord{
		ExecutionID: snap.ExecutionID,
		GraphName:   snap.GraphName,
		State:       string(snap.State),
		Payload:     string(payload),
	}
	return s.db.WithContext(ctx).Save(&rec).Error
}

func (s *GormSnapshotStore) Load(ctx context.Context, executionID string) (*ExecutionSnapshot, error) {
	var rec snapshotRecord
	err := s.db.WithContext(ctx).First(&rec, "execution_id = ?", executionID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, types.NewErrorf(types.ErrNotFound, "snapshot not found: %s", executionID)
		}
		return nil, err
	}
	return decodeSnapshot(rec.Payload)
}

func (s *GormSnapshotStore) Delete(ctx context.Context, executionID string) error {
	return s.db.WithContext(ctx).Delete(&snapshotRecord{}, "execution_id = ?", executionID).Error
}

func (s *GormSnapshotStore) List(ctx context.Context) ([]*ExecutionSnapshot, error) {
	var recs []snapshotRecord
	if err := s.db.WithContext(ctx).Order("created_at").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*ExecutionSnapshot, 0, len(recs))
	for _, rec := range recs {
		snap, err := decodeSnapshot(rec.Payload)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func decodeSnapshot(payload string) (*ExecutionSnapshot, error) {
	var snap ExecutionSnapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, types.NewError(types.ErrValidation, "decode snapshot").WithCause(err)
	}
	return &snap, nil
}
