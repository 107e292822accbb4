// Package checkpoint implements human-approval checkpoints: durable
// decision records created when an execution suspends at an approval gate.
// The first committed decision wins; every later attempt surfaces
// types.ErrAlreadyDecided.
package checkpoint

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/agentgraph/types"
)

// DecisionStatus is the lifecycle of a checkpoint.
type DecisionStatus string

const (
	// StatusPending means no decision has been committed yet.
	StatusPending DecisionStatus = "pending"
	// StatusApproved means a reviewer approved and the run may resume.
	StatusApproved DecisionStatus = "approved"
	// StatusRejected means a reviewer rejected; the run fails at the gate.
	StatusRejected DecisionStatus = "rejected"
	// StatusExpired means the owning execution was cancelled before a
	// decision arrived. Late decisions against an expired checkpoint are
	// rejected, not applied.
	StatusExpired DecisionStatus = "expired"
)

// Checkpoint is one approval decision point. ID doubles as the resumption
// token handed to reviewers.
type Checkpoint struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id"`
	Title       string         `json:"title,omitempty"`
	Payload     map[string]any `json:"payload,omitempty"`
	Status      DecisionStatus `json:"status"`
	DecidedBy   string         `json:"decided_by,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty"`
}

// Store persists checkpoints and serializes decisions. Decide must be
// atomic across concurrent callers: exactly one submission transitions the
// checkpoint out of pending.
type Store interface {
	// Create persists a new pending checkpoint, assigning ID and
	// CreatedAt when unset.
	Create(ctx context.Context, cp *Checkpoint) error
	// Decide commits an approval or rejection. Returns
	// types.ErrAlreadyDecided if the checkpoint already left pending.
	Decide(ctx context.Context, id string, approved bool, decidedBy string) (*Checkpoint, error)
	// Get returns a checkpoint by ID.
	Get(ctx context.Context, id string) (*Checkpoint, error)
	// ListPending returns the pending checkpoints for one execution, or
	// all executions when executionID is empty.
	ListPending(ctx context.Context, executionID string) ([]*Checkpoint, error)
	// Expire marks a pending checkpoint unusable. Expiring a decided
	// checkpoint is a no-op.
	Expire(ctx context.Context, id string) error
}

func stamp(cp *Checkpoint) {
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	if cp.Status == "" {
		cp.Status = StatusPending
	}
}

func decidedStatus(approved bool) DecisionStatus {
	if approved {
		return StatusApproved
	}
	return StatusRejected
}

func notFound(id string) error {
	return types.NewErrorf(types.ErrNotFound, "checkpoint not found: %s", id)
}

func alreadyDecided(cp *Checkpoint) error {
	return types.NewErrorf(types.ErrAlreadyDecided,
		"checkpoint %s already %s by %s", cp.ID, cp.Status, cp.DecidedBy)
}
