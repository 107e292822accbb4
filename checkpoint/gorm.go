package checkpoint

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/BaSui01/agentgraph/types"
)

// checkpointRecord is the gorm row backing GormStore.
type checkpointRecord struct {
	ID          string     `gorm:"primaryKey;size:64"`
	ExecutionID string     `gorm:"size:64;index"`
	NodeID      string     `gorm:"size:128"`
	Title       string     `gorm:"size:256"`
	Payload     string     `gorm:"type:text"`
	Status      string     `gorm:"size:16;index"`
	DecidedBy   string     `gorm:"size:128"`
	CreatedAt   time.Time  `gorm:"autoCreateTime"`
	DecidedAt   *time.Time `gorm:""`
}

func (checkpointRecord) TableName() string { return "approval_checkpoints" }

// GormStore persists checkpoints through gorm. The decision commit is a
// conditional UPDATE guarded on status=pending, so concurrent submissions
// race on the database row and exactly one wins.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&checkpointRecord{}); err != nil {
		return nil, types.NewError(types.ErrValidation, "migrate checkpoint schema").WithCause(err)
	}
	return &GormStore{db: db}, nil
}

func (s *GormStore) Create(ctx context.Context, cp *Checkpoint) error {
	stamp(cp)
	payload, err := json.Marshal(cp.Payload)
	if err != nil {
		return types.NewError(types.ErrValidation, "encode checkpoint payload").WithCause(err)
	}
	rec := checkpointRecord{
		ID:          cp.ID,
		ExecutionID: cp.ExecutionID,
		NodeID:      cp.NodeID,
		Title:       cp.Title,
		Payload:     string(payload),
		Status:      string(cp.Status),
		CreatedAt:   cp.CreatedAt,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

func (s *GormStore) Decide(ctx context.Context, id string, approved bool, decidedBy string) (*Checkpoint, error) {
	now := time.Now()
	res := s.db.WithContext(ctx).Model(&checkpointRecord{}).
		Where("id = ? AND status = ?", id, string(StatusPending)).
		Updates(map[string]any{
			"status":     string(decidedStatus(approved)),
			"decided_by": decidedBy,
			"decided_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		cp, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return nil, alreadyDecided(cp)
	}
	return s.Get(ctx, id)
}

func (s *GormStore) Get(ctx context.Context, id string) (*Checkpoint, error) {
	var rec checkpointRecord
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, notFound(id)
		}
		return nil, err
	}
	return recordToCheckpoint(&rec)
}

func (s *GormStore) ListPending(ctx context.Context, executionID string) ([]*Checkpoint, error) {
	q := s.db.WithContext(ctx).Where("status = ?", string(StatusPending))
	if executionID != "" {
		q = q.Where("execution_id = ?", executionID)
	}
	var recs []checkpointRecord
	if err := q.Order("created_at").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]*Checkpoint, 0, len(recs))
	for i := range recs {
		cp, err := recordToCheckpoint(&recs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

func (s *GormStore) Expire(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&checkpointRecord{}).
		Where("id = ? AND status = ?", id, string(StatusPending)).
		Update("status", string(StatusExpired))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Either missing or already decided; missing is the only error.
		if _, err := s.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func recordToCheckpoint(rec *checkpointRecord) (*Checkpoint, error) {
	cp := &Checkpoint{
		ID:          rec.ID,
		ExecutionID: rec.ExecutionID,
		NodeID:      rec.NodeID,
		Title:       rec.Title,
		Status:      DecisionStatus(rec.Status),
		DecidedBy:   rec.DecidedBy,
		CreatedAt:   rec.CreatedAt,
		DecidedAt:   rec.DecidedAt,
	}
	if rec.Payload != "" {
		if err := json.Unmarshal([]byte(rec.Payload), &cp.Payload); err != nil {
			return nil, types.NewError(types.ErrValidation, "decode checkpoint payload").WithCause(err)
		}
	}
	return cp, nil
}
