package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentgraph/graph"
	"github.com/BaSui01/agentgraph/types"
)

func buildGraph(t *testing.T, b *graph.Builder) *graph.Graph {
	t.Helper()
	g, err := b.Build()
	require.NoError(t, err)
	return g
}

func awaitState(t *testing.T, e *Engine, execID string, want RunState) *Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := e.AwaitSettled(ctx, execID)
	require.NoError(t, err)
	require.Equal(t, want, st.State, "error: %s", st.Error)
	return st
}

func TestLinearExecutionCompletes(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, graph.NewBuilder("linear").
		AddNode("start", graph.KindStart, nil).
		AddNode("review", graph.KindAgent, map[string]any{"agent_id": "reviewer"}).
		AddNode("end", graph.KindEnd, nil).
		AddEdge("start", "review").
		AddEdge("review", "end"))

	e := NewEngine(WithInvoker(EchoInvoker{}))
	execID, err := e.StartExecution(context.Background(), g, map[string]any{"doc": "draft"})
	require.NoError(t, err)

	st := awaitState(t, e, execID, StateCompleted)
	assert.Equal(t, "draft", st.Output["doc"])
	assert.Equal(t, "reviewer", st.Output["agent_id"])

	var order []string
	for _, entry := range st.History {
		order = append(order, entry.NodeID)
	}
	assert.Equal(t, []string{"start", "review", "end"}, order)
}

func TestGuardRoutingReachesMatchingEnd(t *testing.T) {
	t.Parallel()

	b := graph.NewBuilder("routed").
		AddNode("start", graph.KindStart, nil).
		AddNode("score", graph.KindFunction, map[string]any{"function": "score"}).
		AddNode("end_high", graph.KindEnd, nil).
		AddNode("end_low", graph.KindEnd, nil).
		AddEdge("start", "score").
		AddGuardedEdge("score", "end_high", graph.GuardExpr{Path: "score", Op: graph.OpGt, Value: 0.5}).
		AddGuardedEdge("score", "end_low", graph.GuardExpr{Path: "score", Op: graph.OpLte, Value: 0.5})

	fns := NewFunctionRegistry()
	fns.Register("score", func(_ context.Context, vars map[string]any) (map[string]any, error) {
		return map[string]any{"score": vars["raw"]}, nil
	})

	e := NewEngine(WithFunctions(fns))

	highID, err := e.StartExecution(context.Background(), buildGraph(t, b), map[string]any{"raw": 0.9})
	require.NoError(t, err)
	high := awaitState(t, e, highID, StateCompleted)
	assert.Equal(t, "end_high", high.CurrentNode)

	lowID, err := e.StartExecution(context.Background(), buildGraph(t, b), map[string]any{"raw": 0.2})
	require.NoError(t, err)
	low := awaitState(t, e, lowID, StateCompleted)
	assert.Equal(t, "end_low", low.CurrentNode)
}

func TestNodeFailureThenRetrySucceeds(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, graph.NewBuilder("flaky").
		AddNode("start", graph.KindStart, nil).
		AddNode("unstable", graph.KindFunction, map[string]any{"function": "flaky"}).
		AddNode("end", graph.KindEnd, nil).
		AddEdge("start", "unstable").
		AddEdge("unstable", "end"))

	var calls atomic.Int32
	fns := NewFunctionRegistry()
	fns.Register("flaky", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("transient upstream outage")
		}
		return map[string]any{"ok": true}, nil
	})

	e := NewEngine(WithFunctions(fns))
	execID, err := e.StartExecution(context.Background(), g, nil)
	require.NoError(t, err)

	failed := awaitState(t, e, execID, StateFailed)
	assert.Equal(t, "unstable", failed.FailedNode)
	assert.Contains(t, failed.Error, "transient upstream outage")

	require.NoError(t, e.Retry(context.Background(), execID))
	done := awaitState(t, e, execID, StateCompleted)
	assert.Equal(t, true, done.Output["ok"])
	assert.Equal(t, int32(2), calls.Load())

	// A completed execution cannot be retried.
	err = e.Retry(context.Background(), execID)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidState))
}

func TestUnknownFunctionFailsFast(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, graph.NewBuilder("missing-fn").
		AddNode("start", graph.KindStart, nil).
		AddNode("calc", graph.KindFunction, map[string]any{"function": "nope"}).
		AddNode("end", graph.KindEnd, nil).
		AddEdge("start", "calc").
		AddEdge("calc", "end"))

	e := NewEngine()
	execID, err := e.StartExecution(context.Background(), g, nil)
	require.NoError(t, err)

	st := awaitState(t, e, execID, StateFailed)
	assert.Contains(t, st.Error, "nope")
}

func TestFrontierExhaustedFailsExecution(t *testing.T) {
	t.Parallel()

	// The only guard never matches, so the run stalls before any end node.
	g := buildGraph(t, graph.NewBuilder("stalled").
		AddNode("start", graph.KindStart, nil).
		AddNode("mid", graph.KindAgent, map[string]any{"agent_id": "a"}).
		AddNode("end", graph.KindEnd, nil).
		AddEdge("start", "mid").
		AddGuardedEdge("mid", "end", graph.GuardExpr{Path: "missing", Op: graph.OpEq, Value: "never"}))

	e := NewEngine(WithInvoker(EchoInvoker{}))
	execID, err := e.StartExecution(context.Background(), g, nil)
	require.NoError(t, err)

	st := awaitState(t, e, execID, StateFailed)
	assert.Contains(t, st.Error, "frontier exhausted")
}

func TestApprovalGateApprove(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, graph.NewBuilder("hitl").
		AddNode("start", graph.KindStart, nil).
		AddNode("gate", graph.KindApproval, map[string]any{"title": "release to prod"}).
		AddNode("end", graph.KindEnd, nil).
		AddEdge("start", "gate").
		AddEdge("gate", "end"))

	e := NewEngine()
	execID, err := e.StartExecution(context.Background(), g, map[string]any{"build": "1.4.2"})
	require.NoError(t, err)

	waiting := awaitState(t, e, execID, StateWaiting)
	require.NotEmpty(t, waiting.CheckpointID)
	assert.Equal(t, "gate", waiting.PendingGate)

	require.NoError(t, e.SubmitApproval(context.Background(), waiting.CheckpointID, true, "alice"))
	done := awaitState(t, e, execID, StateCompleted)
	assert.Equal(t, true, done.Output["approved"])
	assert.Equal(t, "alice", done.Output["decided_by"])
	assert.Equal(t, "1.4.2", done.Output["build"])

	// The decision is single-shot.
	err = e.SubmitApproval(context.Background(), waiting.CheckpointID, false, "bob")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrAlreadyDecided))
}

func TestApprovalGateReject(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, graph.NewBuilder("hitl-reject").
		AddNode("start", graph.KindStart, nil).
		AddNode("gate", graph.KindApproval, nil).
		AddNode("end", graph.KindEnd, nil).
		AddEdge("start", "gate").
		AddEdge("gate", "end"))

	e := NewEngine()
	execID, err := e.StartExecution(context.Background(), g, nil)
	require.NoError(t, err)

	waiting := awaitState(t, e, execID, StateWaiting)
	require.NoError(t, e.SubmitApproval(context.Background(), waiting.CheckpointID, false, "carol"))

	st := awaitState(t, e, execID, StateFailed)
	assert.Equal(t, "gate", st.FailedNode)
	assert.Contains(t, st.Error, "rejected by carol")
}

func TestRejectedGateRetryKeepsPayload(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, graph.NewBuilder("hitl-reapprove").
		AddNode("start", graph.KindStart, nil).
		AddNode("gate", graph.KindApproval, map[string]any{"title": "sign-off"}).
		AddNode("end", graph.KindEnd, nil).
		AddEdge("start", "gate").
		AddEdge("gate", "end"))

	e := NewEngine()
	execID, err := e.StartExecution(context.Background(), g, map[string]any{"doc": "contract-42"})
	require.NoError(t, err)

	waiting := awaitState(t, e, execID, StateWaiting)
	first, err := e.checkpoints.Get(context.Background(), waiting.CheckpointID)
	require.NoError(t, err)
	require.Equal(t, "contract-42", first.Payload["doc"])

	require.NoError(t, e.SubmitApproval(context.Background(), waiting.CheckpointID, false, "carol"))
	awaitState(t, e, execID, StateFailed)

	// Retry re-enters the gate; the fresh checkpoint must carry the
	// payload the rejected one had.
	require.NoError(t, e.Retry(context.Background(), execID))
	waiting = awaitState(t, e, execID, StateWaiting)
	require.NotEqual(t, first.ID, waiting.CheckpointID)

	second, err := e.checkpoints.Get(context.Background(), waiting.CheckpointID)
	require.NoError(t, err)
	assert.Equal(t, "contract-42", second.Payload["doc"])

	require.NoError(t, e.SubmitApproval(context.Background(), waiting.CheckpointID, true, "dave"))
	st := awaitState(t, e, execID, StateCompleted)
	assert.Equal(t, true, st.Output["approved"])
	assert.Equal(t, "contract-42", st.Output["doc"])
}

func TestCancelRejectsLateDecision(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, graph.NewBuilder("hitl-cancel").
		AddNode("start", graph.KindStart, nil).
		AddNode("gate", graph.KindApproval, nil).
		AddNode("end", graph.KindEnd, nil).
		AddEdge("start", "gate").
		AddEdge("gate", "end"))

	e := NewEngine()
	execID, err := e.StartExecution(context.Background(), g, nil)
	require.NoError(t, err)

	waiting := awaitState(t, e, execID, StateWaiting)
	require.NoError(t, e.Cancel(context.Background(), execID))

	st, err := e.Status(execID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, st.State)

	err = e.SubmitApproval(context.Background(), waiting.CheckpointID, true, "dave")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidState))

	// Cancelling twice is an error: the run already settled.
	err = e.Cancel(context.Background(), execID)
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidState))
}

func TestExecutionTimeout(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, graph.NewBuilder("slow").
		AddNode("start", graph.KindStart, nil).
		AddNode("sleep", graph.KindFunction, map[string]any{"function": "sleep"}).
		AddNode("end", graph.KindEnd, nil).
		AddEdge("start", "sleep").
		AddEdge("sleep", "end"))

	fns := NewFunctionRegistry()
	fns.Register("sleep", func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		select {
		case <-time.After(2 * time.Second):
			return map[string]any{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})

	e := NewEngine(WithFunctions(fns), WithExecutionTimeout(50*time.Millisecond))
	execID, err := e.StartExecution(context.Background(), g, nil)
	require.NoError(t, err)

	st := awaitState(t, e, execID, StateFailed)
	assert.Contains(t, st.Error, "context deadline exceeded")
}

func TestEventStream(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, graph.NewBuilder("events").
		AddNode("start", graph.KindStart, nil).
		AddNode("end", graph.KindEnd, nil).
		AddEdge("start", "end"))

	e := NewEngine()

	// Subscribe before starting so no event is missed; execution IDs are
	// unknown until StartExecution returns, so subscribe to the firehose.
	ch, cancel := e.Subscribe("")
	defer cancel()

	execID, err := e.StartExecution(context.Background(), g, nil)
	require.NoError(t, err)
	awaitState(t, e, execID, StateCompleted)

	seen := map[EventType]bool{}
	deadline := time.After(2 * time.Second)
	for !seen[EventExecutionStarted] || !seen[EventNodeComplete] || !seen[EventStateChange] {
		select {
		case ev := <-ch:
			if ev.ExecutionID == execID {
				seen[ev.Type] = true
			}
		case <-deadline:
			t.Fatalf("missing event types, saw %v", seen)
		}
	}
}

func TestSnapshotPersistedWhileWaiting(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, graph.NewBuilder("durable").
		AddNode("start", graph.KindStart, nil).
		AddNode("gate", graph.KindApproval, nil).
		AddNode("end", graph.KindEnd, nil).
		AddEdge("start", "gate").
		AddEdge("gate", "end"))

	snaps := NewMemorySnapshotStore()
	e := NewEngine(WithSnapshotStore(snaps))
	execID, err := e.StartExecution(context.Background(), g, map[string]any{"k": "v"})
	require.NoError(t, err)

	waiting := awaitState(t, e, execID, StateWaiting)
	snap, err := snaps.Load(context.Background(), execID)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, snap.State)
	assert.Equal(t, "gate", snap.PendingNode)
	assert.Equal(t, waiting.CheckpointID, snap.CheckpointID)

	// Restore into a fresh engine that shares the checkpoint store, as a
	// restarted process would.
	e2 := NewEngine(WithCheckpointStore(e.checkpoints), WithSnapshotStore(snaps))
	require.NoError(t, e2.Restore(g, snap))
	require.NoError(t, e2.SubmitApproval(context.Background(), snap.CheckpointID, true, "erin"))
	done := awaitState(t, e2, execID, StateCompleted)
	assert.Equal(t, "v", done.Output["k"])

	// Completion clears the persisted snapshot.
	_, err = snaps.Load(context.Background(), execID)
	require.Error(t, err)

	// The original engine refuses the spent checkpoint.
	err = e.SubmitApproval(context.Background(), waiting.CheckpointID, true, "frank")
	require.Error(t, err)
}

func TestStatusUnknownExecution(t *testing.T) {
	t.Parallel()
	e := NewEngine()
	_, err := e.Status("missing")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrNotFound))
}
