package nested

import (
	"context"

	"github.com/BaSui01/agentgraph/engine"
	"github.com/BaSui01/agentgraph/graph"
	"github.com/BaSui01/agentgraph/groupchat"
	"github.com/BaSui01/agentgraph/types"
)

// GraphRunner runs a graph to completion as one composed unit. Approval
// gates are not allowed inside a nested run: a suspended child would
// stall the parent indefinitely, so hitting one is an error.
type GraphRunner struct {
	Engine *engine.Engine
	Graph  *graph.Graph
}

func (r *GraphRunner) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	execID, err := r.Engine.StartExecution(ctx, r.Graph, input)
	if err != nil {
		return nil, err
	}
	st, err := r.Engine.AwaitSettled(ctx, execID)
	if err != nil {
		return nil, err
	}
	switch st.State {
	case engine.StateCompleted:
		return st.Output, nil
	case engine.StateWaiting:
		return nil, types.NewErrorf(types.ErrInvalidState,
			"nested workflow %s suspended on approval gate %s", r.Graph.Name(), st.PendingGate)
	default:
		return nil, types.NewErrorf(types.ErrNodeExecution,
			"nested workflow %s failed: %s", r.Graph.Name(), st.Error)
	}
}

// ChatRunner runs a group chat as one composed unit. The opening message
// content is taken from the "message" input key when present. The output
// scope carries the transcript, the rounds, and the termination reason.
type ChatRunner struct {
	Chat *groupchat.Chat
}

func (r *ChatRunner) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	var opening *types.Message
	if content, ok := input["message"].(string); ok && content != "" {
		msg := types.NewMessage("parent", "", content)
		opening = &msg
	}
	res, err := r.Chat.Run(ctx, opening)
	if err != nil {
		return nil, err
	}
	out := map[string]any{
		"rounds": res.Rounds,
		"reason": res.Reason,
	}
	if n := len(res.Messages); n > 0 {
		out["last_message"] = res.Messages[n-1].Content
		out["messages"] = res.Messages
	}
	return out, nil
}

// AsFunction exposes a registered child workflow as an engine function,
// so a function node can invoke it from inside a graph. The composed
// output becomes the node output.
func (c *Composer) AsFunction(id string, opts InvokeOptions) engine.Function {
	return func(ctx context.Context, vars map[string]any) (map[string]any, error) {
		return c.Invoke(ctx, id, vars, opts)
	}
}
