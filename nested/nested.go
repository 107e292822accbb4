// Package nested composes workflows: a registered child workflow runs as
// one unit inside a parent, with a configurable variable propagation mode
// and a context-carried depth guard against runaway recursion.
package nested

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/types"
)

// Runner executes one composed unit: a graph, a chat, or anything else
// that maps an input scope to an output scope.
type Runner interface {
	Run(ctx context.Context, input map[string]any) (map[string]any, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, input map[string]any) (map[string]any, error)

func (f RunnerFunc) Run(ctx context.Context, input map[string]any) (map[string]any, error) {
	return f(ctx, input)
}

// Registry is a flat directory of runnable workflows keyed by id.
type Registry struct {
	mu      sync.RWMutex
	runners map[string]Runner
}

func NewRegistry() *Registry {
	return &Registry{runners: make(map[string]Runner)}
}

func (r *Registry) Register(id string, runner Runner) error {
	if id == "" {
		return types.NewError(types.ErrValidation, "workflow id is empty")
	}
	if runner == nil {
		return types.NewError(types.ErrValidation, "nil runner")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runners[id] = runner
	return nil
}

func (r *Registry) Get(id string) (Runner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	runner, ok := r.runners[id]
	if !ok {
		return nil, types.NewErrorf(types.ErrNotFound, "workflow not registered: %s", id)
	}
	return runner, nil
}

// Propagation selects how the parent's variable scope reaches the child
// and how the child's output comes back.
type Propagation string

const (
	// PropInherited gives the child a copy of the parent scope and
	// returns the child output as-is.
	PropInherited Propagation = "inherited"
	// PropIsolated starts the child with an empty scope.
	PropIsolated Propagation = "isolated"
	// PropMerged starts the child from a copy of the parent scope with
	// the supplement merged over it, and returns parent and child output
	// merged, child keys winning on conflict.
	PropMerged Propagation = "merged"
	// PropFiltered gives the child only the keys named by the filter.
	PropFiltered Propagation = "filtered"
)

// InvokeOptions tunes one composed invocation.
type InvokeOptions struct {
	Propagation Propagation
	// Filter names the parent keys visible to a PropFiltered child.
	Filter []string
	// Supplement is merged over the parent copy in a PropMerged child's
	// starting scope, supplement keys winning ties.
	Supplement map[string]any
	// Finalize, when set, runs exactly once for every child that was
	// started, whether it succeeded or failed. It sees the child's raw
	// output before any merge.
	Finalize func(id string, output map[string]any, err error)
}

// Composer invokes registered child workflows with recursion protection.
// Depth travels in the context, so it unwinds naturally when a child
// returns and never leaks between sibling invocations.
type Composer struct {
	registry *Registry
	maxDepth int
	logger   *zap.Logger
}

// ComposerOption configures a Composer.
type ComposerOption func(*Composer)

func WithMaxDepth(n int) ComposerOption {
	return func(c *Composer) { c.maxDepth = n }
}

func WithLogger(logger *zap.Logger) ComposerOption {
	return func(c *Composer) { c.logger = logger }
}

const defaultMaxDepth = 8

func NewComposer(registry *Registry, opts ...ComposerOption) *Composer {
	c := &Composer{
		registry: registry,
		maxDepth: defaultMaxDepth,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "nested"))
	return c
}

// Invoke runs the child workflow with a scope derived from parentVars per
// the propagation mode. The recursion guard fires before the child runs:
// exceeding the depth limit returns a RECURSION error and the child is
// never started. parentVars is never mutated.
func (c *Composer) Invoke(ctx context.Context, id string, parentVars map[string]any, opts InvokeOptions) (map[string]any, error) {
	depth := types.Depth(ctx)
	if depth+1 > c.maxDepth {
		return nil, types.NewErrorf(types.ErrRecursion,
			"nesting depth %d exceeds limit %d invoking %s", depth+1, c.maxDepth, id)
	}

	runner, err := c.registry.Get(id)
	if err != nil {
		return nil, err
	}

	input := childScope(opts, parentVars)
	c.logger.Debug("invoking nested workflow",
		zap.String("workflow", id),
		zap.Int("depth", depth+1),
	)

	output, err := runner.Run(types.WithDepth(ctx, depth+1), input)
	if opts.Finalize != nil {
		opts.Finalize(id, output, err)
	}
	if err != nil {
		return nil, err
	}

	if mode(opts) == PropMerged {
		merged := make(map[string]any, len(parentVars)+len(output))
		for k, v := range parentVars {
			merged[k] = v
		}
		for k, v := range output {
			merged[k] = v
		}
		return merged, nil
	}
	return output, nil
}

func mode(opts InvokeOptions) Propagation {
	if opts.Propagation == "" {
		return PropInherited
	}
	return opts.Propagation
}

func childScope(opts InvokeOptions, parentVars map[string]any) map[string]any {
	switch mode(opts) {
	case PropIsolated:
		return map[string]any{}
	case PropFiltered:
		out := make(map[string]any, len(opts.Filter))
		for _, k := range opts.Filter {
			if v, ok := parentVars[k]; ok {
				out[k] = v
			}
		}
		return out
	case PropMerged:
		out := make(map[string]any, len(parentVars)+len(opts.Supplement))
		for k, v := range parentVars {
			out[k] = v
		}
		for k, v := range opts.Supplement {
			out[k] = v
		}
		return out
	default: // inherited
		out := make(map[string]any, len(parentVars))
		for k, v := range parentVars {
			out[k] = v
		}
		return out
	}
}
