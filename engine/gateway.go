package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/graph"
	"github.com/BaSui01/agentgraph/types"
)

// JoinPolicy defines how a parallel gateway combines its branches.
type JoinPolicy string

const (
	// JoinAll waits for every branch and aggregates branchID -> output.
	JoinAll JoinPolicy = "all"
	// JoinAny uses the first completed branch's output and cancels the rest.
	JoinAny JoinPolicy = "any"
	// JoinFirst uses the first completed branch's output and lets the rest
	// finish; their results are discarded. The difference from JoinAny
	// matters for side-effecting branches.
	JoinFirst JoinPolicy = "first"
	// JoinNOfM waits for exactly n of the m declared branches, failing as
	// soon as fewer than n can still complete.
	JoinNOfM JoinPolicy = "n_of_m"
)

// GatewayMode selects between parallel split/join and exclusive routing.
type GatewayMode string

const (
	// ModeParallel runs every outgoing branch concurrently behind a join
	// barrier.
	ModeParallel GatewayMode = "parallel"
	// ModeExclusive routes to the first outgoing edge whose guard is true,
	// ties broken by edge declaration order; an edge labeled "default"
	// serves as the fallback.
	ModeExclusive GatewayMode = "exclusive"
)

type branchResult struct {
	branchID string
	output   map[string]any
	err      error
}

// executeGateway implements the gateway node kind. Config keys:
// "mode" (parallel|exclusive, default parallel), "join" (all|any|first|
// n_of_m, default all), "n" (for n_of_m), "timeout_ms" (per-gateway
// timeout), "join_node" (node the engine continues from after the join).
func (e *Engine) executeGateway(ctx context.Context, exec *Execution, node *graph.NodeSpec, input NodeInput) (*NodeOutput, error) {
	mode := GatewayMode(node.ConfigString("mode"))
	if mode == "" {
		mode = ModeParallel
	}
	if mode == ModeExclusive {
		return e.executeExclusiveGateway(exec, node, input), nil
	}
	return e.executeParallelGateway(ctx, exec, node, input)
}

// executeExclusiveGateway picks one successor: the first edge in
// declaration order whose guard evaluates true against the incoming
// payload, else the edge labeled "default". No match is a routing failure.
func (e *Engine) executeExclusiveGateway(exec *Execution, node *graph.NodeSpec, input NodeInput) *NodeOutput {
	var defaultTarget string
	for _, edge := range exec.Graph.Outgoing(node.ID) {
		if edge.Guard == nil && edge.Label == "default" {
			if defaultTarget == "" {
				defaultTarget = edge.Target
			}
			continue
		}
		if graph.EvaluateGuard(edge.Guard, anyPayload(input.Payload)) {
			return &NodeOutput{Result: input.Payload, Success: true, NextHints: []string{edge.Target}}
		}
	}
	if defaultTarget != "" {
		return &NodeOutput{Result: input.Payload, Success: true, NextHints: []string{defaultTarget}}
	}
	err := types.NewError(types.ErrRouting, "exclusive gateway matched no guard and has no default edge").WithNode(node.ID)
	return &NodeOutput{Success: false, Error: err.Error()}
}

// executeParallelGateway runs each outgoing branch on its own goroutine
// and finalizes according to the configured join policy.
func (e *Engine) executeParallelGateway(ctx context.Context, exec *Execution, node *graph.NodeSpec, input NodeInput) (*NodeOutput, error) {
	edges := exec.Graph.Outgoing(node.ID)
	if len(edges) == 0 {
		return &NodeOutput{Result: input.Payload, Success: true}, nil
	}

	policy := JoinPolicy(node.ConfigString("join"))
	if policy == "" {
		policy = JoinAll
	}
	joinNode := node.ConfigString("join_node")
	m := len(edges)

	need := m
	switch policy {
	case JoinAny, JoinFirst:
		need = 1
	case JoinNOfM:
		need = node.ConfigInt("n")
		if need <= 0 || need > m {
			return nil, types.NewErrorf(types.ErrValidation,
				"gateway n_of_m requires 0 < n <= %d, got %d", m, need).WithNode(node.ID)
		}
	case JoinAll:
	default:
		return nil, types.NewErrorf(types.ErrValidation, "unknown join policy: %s", policy).WithNode(node.ID)
	}

	// Deadlock guard: a branch entry that already completed in this run
	// would wait on itself.
	for _, edge := range edges {
		if exec.wasVisited(edge.Target) {
			return nil, types.NewErrorf(types.ErrValidation,
				"gateway branch %s already completed in this execution", edge.Target).WithNode(node.ID)
		}
	}

	branchCtx := ctx
	var cancelBranches context.CancelFunc
	switch policy {
	case JoinAny:
		branchCtx, cancelBranches = context.WithCancel(ctx)
		defer cancelBranches()
	case JoinFirst:
		// Losing branches may outlive the join, and the run context is
		// cancelled as soon as the execution finishes, so they run
		// detached from it.
		branchCtx = context.WithoutCancel(ctx)
	}

	results := make(chan branchResult, m)
	for _, edge := range edges {
		go func(entry string) {
			output, err := e.runBranch(branchCtx, exec, node, entry, input)
			results <- branchResult{branchID: entry, output: output, err: err}
		}(edge.Target)
	}

	var timeoutCh <-chan time.Time
	if ms := node.ConfigInt("timeout_ms"); ms > 0 {
		timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	collected := make(map[string]map[string]any, need)
	failures := 0
	for len(collected) < need {
		select {
		case res := <-results:
			if res.err != nil {
				failures++
				e.logger.Warn("gateway branch failed",
					zap.String("execution_id", exec.ID),
					zap.String("gateway", node.ID),
					zap.String("branch", res.branchID),
					zap.Error(res.err),
				)
				// Fail as soon as the policy minimum can no longer be met.
				if m-failures < need {
					err := types.NewErrorf(types.ErrNodeExecution,
						"gateway join unsatisfiable: %d of %d branches failed", failures, m).
						WithNode(node.ID).WithCause(res.err)
					e.metrics.ObserveGatewayJoin(string(policy), "failed")
					return &NodeOutput{Success: false, Error: err.Error()}, nil
				}
				continue
			}
			collected[res.branchID] = res.output

		case <-timeoutCh:
			err := types.NewErrorf(types.ErrTimeout,
				"gateway timed out with %d of %d required branches", len(collected), need).WithNode(node.ID)
			e.metrics.ObserveGatewayJoin(string(policy), "timeout")
			return &NodeOutput{Success: false, Error: err.Error()}, nil

		case <-ctx.Done():
			return &NodeOutput{Success: false, Error: ctx.Err().Error()}, nil
		}
	}

	if cancelBranches != nil {
		cancelBranches()
	}
	e.metrics.ObserveGatewayJoin(string(policy), "satisfied")

	out := &NodeOutput{Success: true}
	if joinNode != "" {
		out.NextHints = []string{joinNode}
	}
	switch policy {
	case JoinAny, JoinFirst:
		for _, output := range collected {
			out.Result = output
		}
	default:
		agg := make(map[string]any, len(collected))
		for branchID, output := range collected {
			agg[branchID] = output
		}
		out.Result = agg
	}
	return out, nil
}

// runBranch walks one gateway branch sequentially: from the entry node,
// following the first satisfied outgoing edge, until a node has no
// successor or the next node is the gateway's join node. The branch output
// is the last node's result.
func (e *Engine) runBranch(ctx context.Context, exec *Execution, gateway *graph.NodeSpec, entryID string, input NodeInput) (map[string]any, error) {
	joinNode := gateway.ConfigString("join_node")
	currentID := entryID
	payload := input.Payload
	from := gateway.ID

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		node, ok := exec.Graph.Node(currentID)
		if !ok {
			return nil, types.NewErrorf(types.ErrValidation, "branch node not found: %s", currentID)
		}
		if node.Kind == graph.KindApproval {
			return nil, types.NewError(types.ErrValidation,
				"approval gate inside a gateway branch cannot suspend the join").WithNode(currentID)
		}

		started := time.Now()
		out, err := e.dispatch(ctx, exec, node, NodeInput{From: from, Payload: payload})
		if err != nil {
			return nil, err
		}
		exec.markVisited(currentID)
		exec.Context.AppendHistory(HistoryEntry{
			NodeID:     currentID,
			Kind:       node.Kind,
			StartedAt:  started,
			FinishedAt: time.Now(),
			Success:    out.Success,
			Output:     out.Result,
			Error:      out.Error,
		})
		if !out.Success {
			return nil, types.NewError(types.ErrNodeExecution, out.Error).WithNode(currentID)
		}

		next := e.nextTargets(exec, node, out)
		if len(next) == 0 || (joinNode != "" && next[0] == joinNode) {
			return out.Result, nil
		}
		from = currentID
		currentID = next[0]
		payload = out.Result
	}
}

func anyPayload(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
