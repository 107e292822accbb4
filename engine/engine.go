package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/checkpoint"
	"github.com/BaSui01/agentgraph/graph"
	"github.com/BaSui01/agentgraph/types"
)

// frontierItem is one pending step in an execution: the node to run next
// and the payload handed to it.
type frontierItem struct {
	nodeID string
	input  NodeInput
}

// Execution is one run of a graph. All mutable fields are guarded by mu;
// the run loop owns the frontier while the execution is Running.
type Execution struct {
	ID      string
	Graph   *graph.Graph
	Context *ExecutionContext

	mu       sync.Mutex
	cond     *sync.Cond
	state    RunState
	frontier []frontierItem
	visited  map[string]bool

	currentNodeID string
	failedNodeID  string
	failedInput   NodeInput
	errMsg        string
	output        map[string]any

	pendingCheckpointID string
	pendingNodeID       string

	cancelled bool
	runCtx    context.Context
	cancelRun context.CancelFunc
}

func (x *Execution) wasVisited(nodeID string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.visited[nodeID]
}

func (x *Execution) markVisited(nodeID string) {
	x.mu.Lock()
	x.visited[nodeID] = true
	x.mu.Unlock()
}

// State returns the current run state.
func (x *Execution) State() RunState {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.state
}

// Status is a point-in-time view of an execution for API consumers.
type Status struct {
	ExecutionID  string         `json:"execution_id"`
	GraphName    string         `json:"graph_name"`
	State        RunState       `json:"state"`
	CurrentNode  string         `json:"current_node,omitempty"`
	FailedNode   string         `json:"failed_node,omitempty"`
	PendingGate  string         `json:"pending_gate,omitempty"`
	CheckpointID string         `json:"checkpoint_id,omitempty"`
	Error        string         `json:"error,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	Variables    map[string]any `json:"variables,omitempty"`
	History      []HistoryEntry `json:"history,omitempty"`
}

// Engine runs graph executions. It is safe for concurrent use; each
// execution runs on its own goroutine.
type Engine struct {
	invoker     AgentInvoker
	functions   *FunctionRegistry
	checkpoints checkpoint.Store
	snapshots   SnapshotStore
	metrics     Metrics
	logger      *zap.Logger
	tracer      trace.Tracer
	broadcast   *broadcaster
	execTimeout time.Duration

	mu         sync.RWMutex
	executions map[string]*Execution
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithInvoker(invoker AgentInvoker) Option {
	return func(e *Engine) { e.invoker = invoker }
}

func WithFunctions(registry *FunctionRegistry) Option {
	return func(e *Engine) { e.functions = registry }
}

func WithCheckpointStore(store checkpoint.Store) Option {
	return func(e *Engine) { e.checkpoints = store }
}

func WithSnapshotStore(store SnapshotStore) Option {
	return func(e *Engine) { e.snapshots = store }
}

func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithExecutionTimeout bounds the wall clock of every execution started by
// this engine. Zero means unbounded.
func WithExecutionTimeout(d time.Duration) Option {
	return func(e *Engine) { e.execTimeout = d }
}

func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		functions:   NewFunctionRegistry(),
		checkpoints: checkpoint.NewMemoryStore(),
		snapshots:   NewMemorySnapshotStore(),
		metrics:     noopMetrics{},
		logger:      zap.NewNop(),
		broadcast:   newBroadcaster(),
		executions:  make(map[string]*Execution),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "engine"))
	e.tracer = otel.Tracer("agentgraph/engine")
	return e
}

// StartExecution begins a new asynchronous run of the graph with the given
// initial variables and returns its execution ID.
func (e *Engine) StartExecution(ctx context.Context, g *graph.Graph, initial map[string]any) (string, error) {
	if g == nil {
		return "", types.NewError(types.ErrValidation, "nil graph")
	}

	id := uuid.NewString()
	exec := &Execution{
		ID:      id,
		Graph:   g,
		Context: NewExecutionContext(id),
		state:   StatePending,
		visited: make(map[string]bool),
		frontier: []frontierItem{{
			nodeID: g.StartID(),
			input:  NodeInput{Payload: initial},
		}},
	}
	exec.cond = sync.NewCond(&exec.mu)

	runCtx := types.WithExecutionID(context.Background(), exec.ID)
	if e.execTimeout > 0 {
		runCtx, exec.cancelRun = context.WithTimeout(runCtx, e.execTimeout)
	} else {
		runCtx, exec.cancelRun = context.WithCancel(runCtx)
	}
	exec.runCtx = runCtx

	e.mu.Lock()
	e.executions[exec.ID] = exec
	e.mu.Unlock()

	e.logger.Info("execution started",
		zap.String("execution_id", exec.ID),
		zap.String("graph", g.Name()),
	)
	e.publish(Event{Type: EventExecutionStarted, ExecutionID: exec.ID})

	exec.mu.Lock()
	e.transitionLocked(exec, StateRunning)
	exec.mu.Unlock()

	go e.loop(exec)
	return exec.ID, nil
}

// loop drains the frontier in FIFO order until the execution settles:
// completed at an end node, suspended at an approval gate, or failed.
func (e *Engine) loop(exec *Execution) {
	for {
		exec.mu.Lock()
		if exec.cancelled || exec.state.Terminal() {
			exec.mu.Unlock()
			return
		}
		if len(exec.frontier) == 0 {
			exec.mu.Unlock()
			e.fail(exec, exec.currentNodeID,
				types.NewError(types.ErrRouting, "frontier exhausted before reaching an end node"))
			return
		}
		item := exec.frontier[0]
		exec.frontier = exec.frontier[1:]
		exec.currentNodeID = item.nodeID
		// Recorded up front so every failure path, including approval
		// rejection, leaves Retry the input the node actually saw.
		exec.failedInput = item.input
		exec.mu.Unlock()

		if err := exec.runCtx.Err(); err != nil {
			e.fail(exec, item.nodeID,
				types.NewError(types.ErrTimeout, "execution deadline exceeded").WithNode(item.nodeID).WithCause(err))
			return
		}

		node, ok := exec.Graph.Node(item.nodeID)
		if !ok {
			e.fail(exec, item.nodeID,
				types.NewErrorf(types.ErrValidation, "node not found: %s", item.nodeID))
			return
		}

		if node.Kind == graph.KindApproval {
			e.suspend(exec, node, item.input)
			return
		}

		e.publish(Event{Type: EventNodeStart, ExecutionID: exec.ID, NodeID: node.ID})
		started := time.Now()
		out, err := e.dispatch(exec.runCtx, exec, node, item.input)
		if err != nil {
			e.metrics.ObserveNode(string(node.Kind), time.Since(started), false)
			e.publish(Event{Type: EventNodeError, ExecutionID: exec.ID, NodeID: node.ID, Error: err.Error()})
			e.fail(exec, node.ID, err)
			return
		}

		exec.markVisited(node.ID)
		exec.Context.AppendHistory(HistoryEntry{
			NodeID:     node.ID,
			Kind:       node.Kind,
			StartedAt:  started,
			FinishedAt: time.Now(),
			Success:    out.Success,
			Output:     out.Result,
			Error:      out.Error,
		})
		e.metrics.ObserveNode(string(node.Kind), time.Since(started), out.Success)

		if !out.Success {
			e.publish(Event{Type: EventNodeError, ExecutionID: exec.ID, NodeID: node.ID, Error: out.Error})
			e.fail(exec, node.ID, types.NewError(types.ErrNodeExecution, out.Error).WithNode(node.ID))
			return
		}
		e.publish(Event{Type: EventNodeComplete, ExecutionID: exec.ID, NodeID: node.ID, Data: out.Result})

		if exec.Graph.IsEnd(node.ID) {
			e.complete(exec, node.ID, out)
			return
		}

		targets := e.nextTargets(exec, node, out)
		exec.mu.Lock()
		for _, target := range targets {
			exec.frontier = append(exec.frontier, frontierItem{
				nodeID: target,
				input:  NodeInput{From: node.ID, Payload: out.Result},
			})
		}
		exec.mu.Unlock()
	}
}

// nextTargets resolves the successors of a completed node. Explicit hints
// from the node (gateway joins, exclusive routing) win; otherwise every
// outgoing edge whose guard holds against the node output is taken, in
// declaration order.
func (e *Engine) nextTargets(exec *Execution, node *graph.NodeSpec, out *NodeOutput) []string {
	if len(out.NextHints) > 0 {
		return out.NextHints
	}
	var targets []string
	for _, edge := range exec.Graph.Outgoing(node.ID) {
		if graph.EvaluateGuard(edge.Guard, anyPayload(out.Result)) {
			targets = append(targets, edge.Target)
		}
	}
	return targets
}

// suspend parks the execution at an approval gate: a pending checkpoint is
// created, the state moves to Waiting, and a snapshot is persisted so the
// run survives a restart.
func (e *Engine) suspend(exec *Execution, node *graph.NodeSpec, input NodeInput) {
	cp := &checkpoint.Checkpoint{
		ExecutionID: exec.ID,
		NodeID:      node.ID,
		Title:       node.ConfigString("title"),
		Payload:     input.Payload,
	}
	if err := e.checkpoints.Create(exec.runCtx, cp); err != nil {
		e.fail(exec, node.ID, types.NewError(types.ErrNodeExecution, "create checkpoint").WithNode(node.ID).WithCause(err))
		return
	}

	exec.mu.Lock()
	exec.pendingCheckpointID = cp.ID
	exec.pendingNodeID = node.ID
	e.transitionLocked(exec, StateWaiting)
	exec.mu.Unlock()

	e.metrics.ObserveCheckpoint("created")
	e.publish(Event{
		Type:         EventCheckpointCreated,
		ExecutionID:  exec.ID,
		NodeID:       node.ID,
		CheckpointID: cp.ID,
	})
	e.logger.Info("execution waiting on approval",
		zap.String("execution_id", exec.ID),
		zap.String("node_id", node.ID),
		zap.String("checkpoint_id", cp.ID),
	)

	if err := e.snapshots.Save(exec.runCtx, e.snapshotOf(exec)); err != nil {
		e.logger.Warn("snapshot save failed",
			zap.String("execution_id", exec.ID), zap.Error(err))
	}
}

// SubmitApproval records a human decision for a pending checkpoint and, on
// approval, resumes the execution from the gate. The first committed
// decision wins; later submissions get types.ErrAlreadyDecided from the
// store. Decisions for cancelled executions are rejected, not applied.
func (e *Engine) SubmitApproval(ctx context.Context, checkpointID string, approved bool, decidedBy string) error {
	cp, err := e.checkpoints.Get(ctx, checkpointID)
	if err != nil {
		return err
	}
	exec, err := e.get(cp.ExecutionID)
	if err != nil {
		return err
	}

	exec.mu.Lock()
	if exec.cancelled {
		exec.mu.Unlock()
		return types.NewErrorf(types.ErrInvalidState,
			"execution %s is cancelled; decision rejected", exec.ID)
	}
	exec.mu.Unlock()

	// The store serializes concurrent submissions: the first commit wins
	// and every later one comes back types.ErrAlreadyDecided.
	cp, err = e.checkpoints.Decide(ctx, checkpointID, approved, decidedBy)
	if err != nil {
		return err
	}

	exec.mu.Lock()
	if exec.state != StateWaiting || exec.pendingCheckpointID != checkpointID {
		exec.mu.Unlock()
		return types.NewErrorf(types.ErrInvalidState,
			"checkpoint %s is not awaiting a decision", checkpointID)
	}
	exec.mu.Unlock()

	gateID := cp.NodeID
	node, ok := exec.Graph.Node(gateID)
	if !ok {
		return types.NewErrorf(types.ErrValidation, "approval node not found: %s", gateID)
	}

	now := time.Now()
	result := map[string]any{"approved": approved, "decided_by": decidedBy}
	for k, v := range cp.Payload {
		if _, exists := result[k]; !exists {
			result[k] = v
		}
	}

	if !approved {
		e.metrics.ObserveCheckpoint("rejected")
		exec.Context.AppendHistory(HistoryEntry{
			NodeID: gateID, Kind: node.Kind,
			StartedAt: now, FinishedAt: now,
			Success: false, Error: "approval rejected",
		})
		exec.mu.Lock()
		exec.pendingCheckpointID = ""
		exec.pendingNodeID = ""
		// A restored execution never popped the gate, so its retry input
		// is rebuilt from the checkpoint payload.
		if exec.failedInput.Payload == nil {
			exec.failedInput = NodeInput{Payload: cp.Payload}
		}
		exec.mu.Unlock()
		e.fail(exec, gateID,
			types.NewErrorf(types.ErrNodeExecution, "approval rejected by %s", decidedBy).WithNode(gateID))
		return nil
	}

	e.metrics.ObserveCheckpoint("approved")
	exec.markVisited(gateID)
	exec.Context.AppendHistory(HistoryEntry{
		NodeID: gateID, Kind: node.Kind,
		StartedAt: now, FinishedAt: now,
		Success: true, Output: result,
	})
	targets := e.nextTargets(exec, node, &NodeOutput{Result: result, Success: true})

	exec.mu.Lock()
	exec.pendingCheckpointID = ""
	exec.pendingNodeID = ""
	for _, target := range targets {
		exec.frontier = append(exec.frontier, frontierItem{
			nodeID: target,
			input:  NodeInput{From: gateID, Payload: result},
		})
	}
	e.transitionLocked(exec, StateRunning)
	exec.mu.Unlock()

	if err := e.snapshots.Delete(ctx, exec.ID); err != nil {
		e.logger.Warn("snapshot delete failed",
			zap.String("execution_id", exec.ID), zap.Error(err))
	}
	go e.loop(exec)
	return nil
}

// Cancel moves an execution to Failed from any non-terminal state. A
// pending approval checkpoint is expired so late decisions are rejected.
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	exec, err := e.get(executionID)
	if err != nil {
		return err
	}

	exec.mu.Lock()
	if exec.state.Terminal() {
		exec.mu.Unlock()
		return types.NewErrorf(types.ErrInvalidState,
			"execution %s already settled in state %s", executionID, exec.state)
	}
	exec.cancelled = true
	pendingID := exec.pendingCheckpointID
	exec.errMsg = "execution cancelled"
	e.transitionLocked(exec, StateFailed)
	exec.mu.Unlock()

	exec.cancelRun()
	if pendingID != "" {
		if err := e.checkpoints.Expire(ctx, pendingID); err != nil {
			e.logger.Warn("expire checkpoint failed",
				zap.String("checkpoint_id", pendingID), zap.Error(err))
		}
		e.metrics.ObserveCheckpoint("expired")
	}
	e.metrics.ObserveExecution(string(StateFailed))
	e.logger.Info("execution cancelled", zap.String("execution_id", executionID))
	return nil
}

// Retry re-enters a failed execution at the node that failed, with the
// accumulated context preserved.
func (e *Engine) Retry(ctx context.Context, executionID string) error {
	exec, err := e.get(executionID)
	if err != nil {
		return err
	}

	exec.mu.Lock()
	defer exec.mu.Unlock()
	if exec.cancelled {
		return types.NewErrorf(types.ErrInvalidState, "execution %s was cancelled", executionID)
	}
	if exec.state != StateFailed {
		return types.NewErrorf(types.ErrInvalidState,
			"retry requires a failed execution, state is %s", exec.state)
	}
	if exec.failedNodeID == "" {
		return types.NewErrorf(types.ErrInvalidState,
			"execution %s has no failed node to retry", executionID)
	}

	runCtx := types.WithExecutionID(context.Background(), exec.ID)
	if e.execTimeout > 0 {
		runCtx, exec.cancelRun = context.WithTimeout(runCtx, e.execTimeout)
	} else {
		runCtx, exec.cancelRun = context.WithCancel(runCtx)
	}
	exec.runCtx = runCtx

	exec.frontier = append(exec.frontier, frontierItem{
		nodeID: exec.failedNodeID,
		input:  exec.failedInput,
	})
	delete(exec.visited, exec.failedNodeID)
	exec.errMsg = ""
	exec.failedNodeID = ""
	e.transitionLocked(exec, StateRunning)

	e.logger.Info("execution retrying", zap.String("execution_id", executionID))
	go e.loop(exec)
	return nil
}

// Status reports the current state of an execution.
func (e *Engine) Status(executionID string) (*Status, error) {
	exec, err := e.get(executionID)
	if err != nil {
		return nil, err
	}
	exec.mu.Lock()
	st := &Status{
		ExecutionID:  exec.ID,
		GraphName:    exec.Graph.Name(),
		State:        exec.state,
		CurrentNode:  exec.currentNodeID,
		FailedNode:   exec.failedNodeID,
		PendingGate:  exec.pendingNodeID,
		CheckpointID: exec.pendingCheckpointID,
		Error:        exec.errMsg,
		Output:       exec.output,
	}
	exec.mu.Unlock()
	st.Variables = exec.Context.Variables()
	st.History = exec.Context.History()
	return st, nil
}

// Subscribe returns a channel of events for one execution and a cancel
// function that must be called when done. An empty executionID subscribes
// to every execution.
func (e *Engine) Subscribe(executionID string) (<-chan Event, func()) {
	return e.broadcast.subscribe(executionID)
}

// AwaitSettled blocks until the execution reaches a terminal state or
// suspends at an approval gate, or the context is cancelled.
func (e *Engine) AwaitSettled(ctx context.Context, executionID string) (*Status, error) {
	exec, err := e.get(executionID)
	if err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() {
		exec.mu.Lock()
		exec.cond.Broadcast()
		exec.mu.Unlock()
	})
	defer stop()

	exec.mu.Lock()
	for !exec.state.Terminal() && exec.state != StateWaiting {
		if ctx.Err() != nil {
			exec.mu.Unlock()
			return nil, ctx.Err()
		}
		exec.cond.Wait()
	}
	exec.mu.Unlock()
	return e.Status(executionID)
}

// Restore rebuilds a suspended execution from a persisted snapshot, parked
// at its approval gate. The caller supplies the graph matching the
// snapshot's graph name.
func (e *Engine) Restore(g *graph.Graph, snap *ExecutionSnapshot) error {
	if g == nil || snap == nil {
		return types.NewError(types.ErrValidation, "nil graph or snapshot")
	}
	if g.Name() != snap.GraphName {
		return types.NewErrorf(types.ErrValidation,
			"graph %s does not match snapshot graph %s", g.Name(), snap.GraphName)
	}

	exec := &Execution{
		ID:                  snap.ExecutionID,
		Graph:               g,
		Context:             FromSnapshot(snap.Context),
		state:               StateWaiting,
		visited:             make(map[string]bool),
		pendingCheckpointID: snap.CheckpointID,
		pendingNodeID:       snap.PendingNode,
	}
	exec.cond = sync.NewCond(&exec.mu)
	for _, entry := range exec.Context.History() {
		if entry.Success {
			exec.visited[entry.NodeID] = true
		}
	}

	runCtx := types.WithExecutionID(context.Background(), exec.ID)
	exec.runCtx, exec.cancelRun = context.WithCancel(runCtx)

	e.mu.Lock()
	e.executions[exec.ID] = exec
	e.mu.Unlock()
	e.logger.Info("execution restored",
		zap.String("execution_id", exec.ID),
		zap.String("pending_node", snap.PendingNode),
	)
	return nil
}

func (e *Engine) get(executionID string) (*Execution, error) {
	e.mu.RLock()
	exec, ok := e.executions[executionID]
	e.mu.RUnlock()
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "execution not found: %s", executionID)
	}
	return exec, nil
}

func (e *Engine) complete(exec *Execution, nodeID string, out *NodeOutput) {
	exec.mu.Lock()
	exec.output = out.Result
	exec.currentNodeID = nodeID
	e.transitionLocked(exec, StateCompleted)
	exec.mu.Unlock()

	exec.cancelRun()
	e.metrics.ObserveExecution(string(StateCompleted))
	if err := e.snapshots.Delete(context.Background(), exec.ID); err != nil {
		e.logger.Debug("snapshot delete failed", zap.String("execution_id", exec.ID), zap.Error(err))
	}
	e.logger.Info("execution completed",
		zap.String("execution_id", exec.ID),
		zap.String("end_node", nodeID),
	)
}

func (e *Engine) fail(exec *Execution, nodeID string, cause error) {
	exec.mu.Lock()
	if exec.state.Terminal() {
		exec.mu.Unlock()
		return
	}
	exec.failedNodeID = nodeID
	exec.errMsg = cause.Error()
	e.transitionLocked(exec, StateFailed)
	exec.mu.Unlock()

	exec.cancelRun()
	e.metrics.ObserveExecution(string(StateFailed))
	e.logger.Warn("execution failed",
		zap.String("execution_id", exec.ID),
		zap.String("node_id", nodeID),
		zap.Error(cause),
	)
}

// transitionLocked moves the execution to the next state. Callers hold
// exec.mu. Illegal transitions indicate an engine bug and are logged, not
// applied.
func (e *Engine) transitionLocked(exec *Execution, next RunState) {
	if !CanTransition(exec.state, next) {
		e.logger.Error("illegal state transition",
			zap.String("execution_id", exec.ID),
			zap.String("from", string(exec.state)),
			zap.String("to", string(next)),
		)
		return
	}
	prev := exec.state
	exec.state = next
	exec.cond.Broadcast()
	e.metrics.ObserveStateTransition(string(prev), string(next))
	e.publish(Event{
		Type:        EventStateChange,
		ExecutionID: exec.ID,
		State:       next,
		Data:        map[string]any{"from": string(prev)},
	})
}

func (e *Engine) publish(ev Event) {
	ev.Timestamp = time.Now()
	e.broadcast.publish(ev)
}

func (e *Engine) snapshotOf(exec *Execution) *ExecutionSnapshot {
	exec.mu.Lock()
	defer exec.mu.Unlock()
	return &ExecutionSnapshot{
		ExecutionID:  exec.ID,
		GraphName:    exec.Graph.Name(),
		State:        exec.state,
		Context:      exec.Context.Snapshot(),
		PendingNode:  exec.pendingNodeID,
		CheckpointID: exec.pendingCheckpointID,
		CreatedAt:    time.Now(),
	}
}
