package engine

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// AgentResult is what an agent invocation returns to the engine.
type AgentResult struct {
	Output  map[string]any `json:"output,omitempty"`
	Success bool           `json:"success"`
	Error   string         `json:"error,omitempty"`
}

// AgentInvoker is the external agent-invocation collaborator. The LLM
// client behind it is out of the engine's scope; implementations must be
// safe to call repeatedly, retries are their responsibility.
type AgentInvoker interface {
	Invoke(ctx context.Context, agentID string, input map[string]any, ec *ExecutionContext) (*AgentResult, error)
}

// AgentInvokerFunc adapts a function to the AgentInvoker interface.
type AgentInvokerFunc func(ctx context.Context, agentID string, input map[string]any, ec *ExecutionContext) (*AgentResult, error)

// Invoke implements AgentInvoker.
func (f AgentInvokerFunc) Invoke(ctx context.Context, agentID string, input map[string]any, ec *ExecutionContext) (*AgentResult, error) {
	return f(ctx, agentID, input, ec)
}

// EchoInvoker is a loopback invoker that returns its input unchanged. It
// fills the agent slot in tests and in deployments where the real LLM
// collaborator is not yet wired.
type EchoInvoker struct{}

// Invoke implements AgentInvoker.
func (EchoInvoker) Invoke(_ context.Context, agentID string, input map[string]any, _ *ExecutionContext) (*AgentResult, error) {
	out := make(map[string]any, len(input)+1)
	for k, v := range input {
		out[k] = v
	}
	out["agent_id"] = agentID
	return &AgentResult{Output: out, Success: true}, nil
}

// RateLimitedInvoker wraps an AgentInvoker with a token-bucket limiter so
// a burst of ready agent nodes cannot flood the collaborator.
type RateLimitedInvoker struct {
	inner   AgentInvoker
	limiter *rate.Limiter
}

// NewRateLimitedInvoker creates a limited invoker allowing rps invocations
// per second with the given burst.
func NewRateLimitedInvoker(inner AgentInvoker, rps float64, burst int) *RateLimitedInvoker {
	return &RateLimitedInvoker{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Invoke waits for limiter admission, then delegates.
func (r *RateLimitedInvoker) Invoke(ctx context.Context, agentID string, input map[string]any, ec *ExecutionContext) (*AgentResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("agent invocation rate limit: %w", err)
	}
	return r.inner.Invoke(ctx, agentID, input, ec)
}
