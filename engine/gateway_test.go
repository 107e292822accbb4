package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentgraph/graph"
)

func sleepFn(d time.Duration, result map[string]any) Function {
	return func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		select {
		case <-time.After(d):
			return result, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func TestExclusiveGatewayRoutesByGuard(t *testing.T) {
	t.Parallel()

	b := graph.NewBuilder("tiered").
		AddNode("start", graph.KindStart, nil).
		AddNode("route", graph.KindGateway, map[string]any{"mode": "exclusive"}).
		AddNode("vip", graph.KindEnd, nil).
		AddNode("std", graph.KindEnd, nil).
		AddEdge("start", "route").
		AddGuardedEdge("route", "vip", graph.GuardExpr{Path: "tier", Op: graph.OpEq, Value: "gold"}).
		AddLabeledEdge("route", "std", "default")

	e := NewEngine()

	goldID, err := e.StartExecution(context.Background(), buildGraph(t, b), map[string]any{"tier": "gold"})
	require.NoError(t, err)
	gold := awaitState(t, e, goldID, StateCompleted)
	assert.Equal(t, "vip", gold.CurrentNode)

	ironID, err := e.StartExecution(context.Background(), buildGraph(t, b), map[string]any{"tier": "iron"})
	require.NoError(t, err)
	iron := awaitState(t, e, ironID, StateCompleted)
	assert.Equal(t, "std", iron.CurrentNode)
}

func TestExclusiveGatewayNoMatchNoDefault(t *testing.T) {
	t.Parallel()

	g := buildGraph(t, graph.NewBuilder("strict").
		AddNode("start", graph.KindStart, nil).
		AddNode("route", graph.KindGateway, map[string]any{"mode": "exclusive"}).
		AddNode("end", graph.KindEnd, nil).
		AddEdge("start", "route").
		AddGuardedEdge("route", "end", graph.GuardExpr{Path: "tier", Op: graph.OpEq, Value: "gold"}))

	e := NewEngine()
	execID, err := e.StartExecution(context.Background(), g, map[string]any{"tier": "iron"})
	require.NoError(t, err)

	st := awaitState(t, e, execID, StateFailed)
	assert.Contains(t, st.Error, "no default edge")
}

func fanOutGraph(t *testing.T, gatewayCfg map[string]any, branches []string) *graph.Graph {
	t.Helper()
	b := graph.NewBuilder("fanout").
		AddNode("start", graph.KindStart, nil).
		AddNode("gw", graph.KindGateway, gatewayCfg).
		AddNode("finish", graph.KindEnd, nil).
		AddEdge("start", "gw")
	for _, branch := range branches {
		b.AddNode(branch, graph.KindFunction, map[string]any{"function": branch}).
			AddEdge("gw", branch).
			AddEdge(branch, "finish")
	}
	return buildGraph(t, b)
}

func TestParallelGatewayJoinAll(t *testing.T) {
	t.Parallel()

	g := fanOutGraph(t, map[string]any{
		"mode": "parallel", "join": "all", "join_node": "finish",
	}, []string{"left", "right"})

	fns := NewFunctionRegistry()
	fns.Register("left", sleepFn(5*time.Millisecond, map[string]any{"who": "left"}))
	fns.Register("right", sleepFn(10*time.Millisecond, map[string]any{"who": "right"}))

	e := NewEngine(WithFunctions(fns))
	execID, err := e.StartExecution(context.Background(), g, nil)
	require.NoError(t, err)

	st := awaitState(t, e, execID, StateCompleted)
	require.Contains(t, st.Output, "left")
	require.Contains(t, st.Output, "right")
	assert.Equal(t, map[string]any{"who": "left"}, st.Output["left"])
	assert.Equal(t, map[string]any{"who": "right"}, st.Output["right"])
}

func TestParallelGatewayNOfM(t *testing.T) {
	t.Parallel()

	g := fanOutGraph(t, map[string]any{
		"mode": "parallel", "join": "n_of_m", "n": 2, "join_node": "finish", "timeout_ms": 2000,
	}, []string{"fast", "faster", "never"})

	fns := NewFunctionRegistry()
	fns.Register("fast", sleepFn(20*time.Millisecond, map[string]any{"who": "fast"}))
	fns.Register("faster", sleepFn(10*time.Millisecond, map[string]any{"who": "faster"}))
	fns.Register("never", sleepFn(time.Minute, map[string]any{"who": "never"}))

	e := NewEngine(WithFunctions(fns))
	execID, err := e.StartExecution(context.Background(), g, nil)
	require.NoError(t, err)

	st := awaitState(t, e, execID, StateCompleted)
	assert.Contains(t, st.Output, "fast")
	assert.Contains(t, st.Output, "faster")
	assert.NotContains(t, st.Output, "never")
}

func TestParallelGatewayJoinAnyTakesFirst(t *testing.T) {
	t.Parallel()

	g := fanOutGraph(t, map[string]any{
		"mode": "parallel", "join": "any", "join_node": "finish",
	}, []string{"quick", "slow"})

	fns := NewFunctionRegistry()
	fns.Register("quick", sleepFn(5*time.Millisecond, map[string]any{"who": "quick"}))
	fns.Register("slow", sleepFn(500*time.Millisecond, map[string]any{"who": "slow"}))

	e := NewEngine(WithFunctions(fns))
	execID, err := e.StartExecution(context.Background(), g, nil)
	require.NoError(t, err)

	st := awaitState(t, e, execID, StateCompleted)
	assert.Equal(t, "quick", st.Output["who"])
}

func TestParallelGatewayTimeout(t *testing.T) {
	t.Parallel()

	g := fanOutGraph(t, map[string]any{
		"mode": "parallel", "join": "all", "join_node": "finish", "timeout_ms": 50,
	}, []string{"stuck"})

	fns := NewFunctionRegistry()
	fns.Register("stuck", sleepFn(time.Minute, nil))

	e := NewEngine(WithFunctions(fns))
	execID, err := e.StartExecution(context.Background(), g, nil)
	require.NoError(t, err)

	st := awaitState(t, e, execID, StateFailed)
	assert.Contains(t, st.Error, "timed out")
}

func TestParallelGatewayUnsatisfiableJoin(t *testing.T) {
	t.Parallel()

	g := fanOutGraph(t, map[string]any{
		"mode": "parallel", "join": "all", "join_node": "finish",
	}, []string{"good", "bad"})

	fns := NewFunctionRegistry()
	fns.Register("good", sleepFn(5*time.Millisecond, map[string]any{"who": "good"}))
	fns.Register("bad", func(_ context.Context, _ map[string]any) (map[string]any, error) {
		return nil, errors.New("branch exploded")
	})

	e := NewEngine(WithFunctions(fns))
	execID, err := e.StartExecution(context.Background(), g, nil)
	require.NoError(t, err)

	st := awaitState(t, e, execID, StateFailed)
	assert.Contains(t, st.Error, "join unsatisfiable")
}

func TestParallelGatewayRevisitedBranchIsDeadlock(t *testing.T) {
	t.Parallel()

	// "prep" runs before the gateway and is also one of its branch
	// entries, so the join would wait on a node that already completed.
	b := graph.NewBuilder("cyclic-join").
		AddNode("start", graph.KindStart, nil).
		AddNode("prep", graph.KindFunction, map[string]any{"function": "prep"}).
		AddNode("gw", graph.KindGateway, map[string]any{"mode": "parallel", "join": "all", "join_node": "finish"}).
		AddNode("other", graph.KindFunction, map[string]any{"function": "other"}).
		AddNode("finish", graph.KindEnd, nil).
		AddEdge("start", "prep").
		AddEdge("prep", "gw").
		AddEdge("gw", "prep").
		AddEdge("gw", "other").
		AddEdge("other", "finish").
		AddEdge("prep", "finish")

	fns := NewFunctionRegistry()
	fns.Register("prep", sleepFn(0, map[string]any{"who": "prep"}))
	fns.Register("other", sleepFn(0, map[string]any{"who": "other"}))

	e := NewEngine(WithFunctions(fns))
	execID, err := e.StartExecution(context.Background(), buildGraph(t, b), nil)
	require.NoError(t, err)

	st := awaitState(t, e, execID, StateFailed)
	assert.Contains(t, st.Error, "already completed")
}

func TestApprovalInsideBranchIsStructural(t *testing.T) {
	t.Parallel()

	b := graph.NewBuilder("gate-in-branch").
		AddNode("start", graph.KindStart, nil).
		AddNode("gw", graph.KindGateway, map[string]any{"mode": "parallel", "join": "all", "join_node": "finish"}).
		AddNode("gate", graph.KindApproval, nil).
		AddNode("finish", graph.KindEnd, nil).
		AddEdge("start", "gw").
		AddEdge("gw", "gate").
		AddEdge("gate", "finish")

	e := NewEngine()
	execID, err := e.StartExecution(context.Background(), buildGraph(t, b), nil)
	require.NoError(t, err)

	st := awaitState(t, e, execID, StateFailed)
	assert.Contains(t, st.Error, "approval gate inside a gateway branch")
}

func TestParallelGatewayJoinFirstLetsLosersFinish(t *testing.T) {
	t.Parallel()

	g := fanOutGraph(t, map[string]any{
		"mode": "parallel", "join": "first", "join_node": "finish",
	}, []string{"quick", "audit"})

	// "audit" is a side-effecting loser: under a FIRST join it must keep
	// running to completion even though its result is discarded.
	audited := make(chan string, 1)
	fns := NewFunctionRegistry()
	fns.Register("quick", sleepFn(5*time.Millisecond, map[string]any{"who": "quick"}))
	fns.Register("audit", func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		select {
		case <-time.After(100 * time.Millisecond):
			audited <- "finished"
		case <-ctx.Done():
			audited <- "cancelled"
		}
		return map[string]any{"who": "audit"}, nil
	})

	e := NewEngine(WithFunctions(fns))
	execID, err := e.StartExecution(context.Background(), g, nil)
	require.NoError(t, err)

	st := awaitState(t, e, execID, StateCompleted)
	assert.Equal(t, "quick", st.Output["who"])

	select {
	case outcome := <-audited:
		assert.Equal(t, "finished", outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("losing branch never ran to completion")
	}
}

func TestParallelGatewayJoinAnyCancelsLosers(t *testing.T) {
	t.Parallel()

	g := fanOutGraph(t, map[string]any{
		"mode": "parallel", "join": "any", "join_node": "finish",
	}, []string{"quick", "audit"})

	audited := make(chan string, 1)
	fns := NewFunctionRegistry()
	fns.Register("quick", sleepFn(5*time.Millisecond, map[string]any{"who": "quick"}))
	fns.Register("audit", func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		select {
		case <-time.After(time.Minute):
			audited <- "finished"
			return map[string]any{"who": "audit"}, nil
		case <-ctx.Done():
			audited <- "cancelled"
			return nil, ctx.Err()
		}
	})

	e := NewEngine(WithFunctions(fns))
	execID, err := e.StartExecution(context.Background(), g, nil)
	require.NoError(t, err)

	st := awaitState(t, e, execID, StateCompleted)
	assert.Equal(t, "quick", st.Output["who"])

	select {
	case outcome := <-audited:
		assert.Equal(t, "cancelled", outcome)
	case <-time.After(2 * time.Second):
		t.Fatal("losing branch was never cancelled")
	}
}
