package handoff

import (
	"context"
	"time"

	"github.com/BaSui01/agentgraph/checkpoint"
	"github.com/BaSui01/agentgraph/types"
)

const defaultConfirmPoll = 100 * time.Millisecond

// CheckpointConfirmer adapts a checkpoint store into a Confirmer: each
// graceful handoff parks on a pending checkpoint and the confirmer polls
// until a reviewer decides it. Approval confirms the transfer; rejection
// or expiry declines it. The checkpoint payload carries the source, the
// matched target, and the reason, so a reviewer sees what they are
// signing off on.
func CheckpointConfirmer(store checkpoint.Store, executionID string, poll time.Duration) Confirmer {
	if poll <= 0 {
		poll = defaultConfirmPoll
	}
	return func(ctx context.Context, target types.Participant, req Request) (bool, error) {
		cp := &checkpoint.Checkpoint{
			ExecutionID: executionID,
			NodeID:      req.From,
			Title:       "handoff " + req.From + " -> " + target.ID,
			Payload: map[string]any{
				"from":   req.From,
				"to":     target.ID,
				"reason": req.Reason,
			},
		}
		if err := store.Create(ctx, cp); err != nil {
			return false, err
		}

		ticker := time.NewTicker(poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				// The handoff is off the table; leave no pending
				// checkpoint behind for reviewers to decide.
				_ = store.Expire(context.WithoutCancel(ctx), cp.ID)
				return false, ctx.Err()
			case <-ticker.C:
			}

			current, err := store.Get(ctx, cp.ID)
			if err != nil {
				return false, err
			}
			switch current.Status {
			case checkpoint.StatusApproved:
				return true, nil
			case checkpoint.StatusRejected, checkpoint.StatusExpired:
				return false, nil
			}
		}
	}
}
