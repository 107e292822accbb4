package checkpoint

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/BaSui01/agentgraph/types"
)

func openStores(t *testing.T) map[string]Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "checkpoints.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn),
		&gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	gs, err := NewGormStore(db)
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"gorm":   gs,
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	t.Parallel()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cp := &Checkpoint{
				ExecutionID: "exec-1",
				NodeID:      "approve-refund",
				Title:       "Refund over limit",
				Payload:     map[string]any{"amount": 250.0},
			}
			require.NoError(t, store.Create(ctx, cp))
			require.NotEmpty(t, cp.ID)

			got, err := store.Get(ctx, cp.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusPending, got.Status)
			assert.Equal(t, "approve-refund", got.NodeID)
			assert.Equal(t, 250.0, got.Payload["amount"])
		})
	}
}

func TestStoreDecideOnce(t *testing.T) {
	t.Parallel()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cp := &Checkpoint{ExecutionID: "exec-2", NodeID: "gate"}
			require.NoError(t, store.Create(ctx, cp))

			decided, err := store.Decide(ctx, cp.ID, true, "alice")
			require.NoError(t, err)
			assert.Equal(t, StatusApproved, decided.Status)
			assert.Equal(t, "alice", decided.DecidedBy)
			require.NotNil(t, decided.DecidedAt)

			_, err = store.Decide(ctx, cp.ID, false, "bob")
			require.Error(t, err)
			assert.True(t, types.IsCode(err, types.ErrAlreadyDecided))

			// The committed decision is untouched by the losing submission.
			got, err := store.Get(ctx, cp.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusApproved, got.Status)
			assert.Equal(t, "alice", got.DecidedBy)
		})
	}
}

func TestStoreFirstCommitterWins(t *testing.T) {
	t.Parallel()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cp := &Checkpoint{ExecutionID: "exec-race", NodeID: "gate"}
			require.NoError(t, store.Create(ctx, cp))

			const submitters = 16
			var wins, losses atomic.Int32
			var wg sync.WaitGroup
			for i := 0; i < submitters; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					_, err := store.Decide(ctx, cp.ID, i%2 == 0, fmt.Sprintf("reviewer-%d", i))
					if err == nil {
						wins.Add(1)
						return
					}
					if types.IsCode(err, types.ErrAlreadyDecided) {
						losses.Add(1)
					}
				}(i)
			}
			wg.Wait()

			assert.Equal(t, int32(1), wins.Load())
			assert.Equal(t, int32(submitters-1), losses.Load())
		})
	}
}

func TestStoreExpire(t *testing.T) {
	t.Parallel()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			cp := &Checkpoint{ExecutionID: "exec-3", NodeID: "gate"}
			require.NoError(t, store.Create(ctx, cp))
			require.NoError(t, store.Expire(ctx, cp.ID))

			_, err := store.Decide(ctx, cp.ID, true, "carol")
			require.Error(t, err)
			assert.True(t, types.IsCode(err, types.ErrAlreadyDecided))

			// Expiring an already-decided checkpoint is a no-op.
			cp2 := &Checkpoint{ExecutionID: "exec-3", NodeID: "gate2"}
			require.NoError(t, store.Create(ctx, cp2))
			_, err = store.Decide(ctx, cp2.ID, false, "carol")
			require.NoError(t, err)
			require.NoError(t, store.Expire(ctx, cp2.ID))
			got, err := store.Get(ctx, cp2.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusRejected, got.Status)
		})
	}
}

func TestStoreListPending(t *testing.T) {
	t.Parallel()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			execID := "exec-list-" + name
			for i := 0; i < 3; i++ {
				require.NoError(t, store.Create(ctx, &Checkpoint{
					ExecutionID: execID,
					NodeID:      fmt.Sprintf("gate-%d", i),
				}))
			}
			decidedCp := &Checkpoint{ExecutionID: execID, NodeID: "gate-decided"}
			require.NoError(t, store.Create(ctx, decidedCp))
			_, err := store.Decide(ctx, decidedCp.ID, true, "dave")
			require.NoError(t, err)

			pending, err := store.ListPending(ctx, execID)
			require.NoError(t, err)
			assert.Len(t, pending, 3)
			for _, cp := range pending {
				assert.Equal(t, StatusPending, cp.Status)
			}

			other, err := store.ListPending(ctx, "no-such-exec")
			require.NoError(t, err)
			assert.Empty(t, other)
		})
	}
}

func TestStoreGetMissing(t *testing.T) {
	t.Parallel()
	for name, store := range openStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "nope")
			require.Error(t, err)
			assert.True(t, types.IsCode(err, types.ErrNotFound))
		})
	}
}
