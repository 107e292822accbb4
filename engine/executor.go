package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/graph"
	"github.com/BaSui01/agentgraph/types"
)

// NodeInput carries the data handed forward from the previous node.
type NodeInput struct {
	From    string         `json:"from,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// NodeOutput is the uniform result of executing one node. Expected node
// failures are reported through Success=false rather than raised, so the
// run loop always observes a clean signal. NextHints, when set, overrides
// edge-based successor selection.
type NodeOutput struct {
	Result    map[string]any `json:"result,omitempty"`
	Success   bool           `json:"success"`
	Error     string         `json:"error,omitempty"`
	NextHints []string       `json:"next_hints,omitempty"`
}

// dispatch executes one node by kind. The switch is exhaustive over the
// closed set of node kinds so adding a kind is a compile-visible change
// here. A returned error is structural and stops the engine immediately;
// ordinary node failures come back as NodeOutput{Success: false}.
func (e *Engine) dispatch(ctx context.Context, exec *Execution, node *graph.NodeSpec, input NodeInput) (*NodeOutput, error) {
	ctx, span := e.tracer.Start(ctx, "engine.node",
		trace.WithAttributes(
			attribute.String("node.id", node.ID),
			attribute.String("node.kind", string(node.Kind)),
			attribute.String("execution.id", exec.ID),
		))
	defer span.End()

	switch node.Kind {
	case graph.KindStart:
		return e.executeStart(exec, node, input), nil
	case graph.KindEnd:
		return e.executeEnd(exec, node, input), nil
	case graph.KindAgent:
		return e.executeAgent(ctx, exec, node, input), nil
	case graph.KindFunction:
		return e.executeFunction(ctx, exec, node)
	case graph.KindGateway:
		return e.executeGateway(ctx, exec, node, input)
	case graph.KindApproval:
		// Approval gates are intercepted by the run loop before dispatch;
		// reaching one here means a gateway branch contains a gate.
		return nil, types.NewError(types.ErrValidation,
			"approval node not reachable outside the main run loop").WithNode(node.ID)
	default:
		return nil, types.NewErrorf(types.ErrValidation, "unknown node kind: %s", node.Kind).WithNode(node.ID)
	}
}

// executeStart seeds the execution variables from the initial payload.
// Start nodes always succeed.
func (e *Engine) executeStart(exec *Execution, node *graph.NodeSpec, input NodeInput) *NodeOutput {
	exec.Context.SeedVariables(input.Payload)
	e.logger.Debug("start node seeded variables",
		zap.String("execution_id", exec.ID),
		zap.String("node_id", node.ID),
		zap.Int("keys", len(input.Payload)),
	)
	return &NodeOutput{Result: input.Payload, Success: true}
}

// executeEnd applies the configured output transform and reports success;
// the run loop marks the execution completed when it sees an end node.
// Config keys: "pick" selects payload fields, "rename" maps old names to
// new ones. Without config the payload passes through unchanged.
func (e *Engine) executeEnd(exec *Execution, node *graph.NodeSpec, input NodeInput) *NodeOutput {
	result := input.Payload
	if picked, ok := node.Config["pick"]; ok {
		keys := toStringSlice(picked)
		out := make(map[string]any, len(keys))
		for _, k := range keys {
			if v, found := input.Payload[k]; found {
				out[k] = v
			} else if v, found := exec.Context.GetVariable(k); found {
				out[k] = v
			}
		}
		result = out
	}
	if renames, ok := node.Config["rename"].(map[string]any); ok {
		out := make(map[string]any, len(result))
		for k, v := range result {
			out[k] = v
		}
		for from, to := range renames {
			toKey, _ := to.(string)
			if v, found := out[from]; found && toKey != "" {
				delete(out, from)
				out[toKey] = v
			}
		}
		result = out
	}
	return &NodeOutput{Result: result, Success: true}
}

// executeAgent delegates to the agent-invocation collaborator. Collaborator
// failures become NodeOutput{Success: false}; they never escape the
// executor boundary.
func (e *Engine) executeAgent(ctx context.Context, exec *Execution, node *graph.NodeSpec, input NodeInput) *NodeOutput {
	agentID := node.ConfigString("agent_id")
	if agentID == "" {
		return &NodeOutput{Success: false, Error: fmt.Sprintf("agent node %s has no agent_id", node.ID)}
	}
	if e.invoker == nil {
		return &NodeOutput{Success: false, Error: "no agent invoker configured"}
	}

	result, err := e.invoker.Invoke(ctx, agentID, input.Payload, exec.Context)
	if err != nil {
		return &NodeOutput{Success: false, Error: err.Error()}
	}
	if !result.Success {
		return &NodeOutput{Success: false, Error: result.Error, Result: result.Output}
	}
	return &NodeOutput{Result: result.Output, Success: true}
}

// executeFunction invokes a registered pure function with the current
// workflow variables. An unknown function name is structural and fails the
// engine fast; an error returned by the function itself is an ordinary
// node failure.
func (e *Engine) executeFunction(ctx context.Context, exec *Execution, node *graph.NodeSpec) (*NodeOutput, error) {
	name := node.ConfigString("function")
	if name == "" {
		return nil, types.NewError(types.ErrValidation, "function node has no function name").WithNode(node.ID)
	}
	fn, err := e.functions.Get(name)
	if err != nil {
		return nil, err
	}

	result, err := fn(ctx, exec.Context.Variables())
	if err != nil {
		return &NodeOutput{Success: false, Error: err.Error()}, nil
	}
	return &NodeOutput{Result: result, Success: true}, nil
}

func toStringSlice(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if str, ok := e.(string); ok {
				out = append(out, str)
			}
		}
		return out
	}
	return nil
}
