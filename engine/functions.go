package engine

import (
	"context"
	"sync"

	"github.com/BaSui01/agentgraph/types"
)

// Function is a registered pure function invocable by a function node.
// It receives the current workflow variables and returns the node output.
type Function func(ctx context.Context, vars map[string]any) (map[string]any, error)

// FunctionRegistry resolves function nodes by name. A registry instance is
// passed into the engine explicitly so independent engines never share
// registrations.
type FunctionRegistry struct {
	fns map[string]Function
	mu  sync.RWMutex
}

// NewFunctionRegistry creates an empty function registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{fns: make(map[string]Function)}
}

// Register binds a function to a name, replacing any previous binding.
func (r *FunctionRegistry) Register(name string, fn Function) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[name] = fn
}

// Get resolves a function by name. An unknown name is a structural error:
// function nodes referencing it fail the execution fast, without retry.
func (r *FunctionRegistry) Get(name string) (Function, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[name]
	if !ok {
		return nil, types.NewErrorf(types.ErrUnknownFunction, "function not registered: %s", name)
	}
	return fn, nil
}

// Names returns all registered function names.
func (r *FunctionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.fns))
	for name := range r.fns {
		names = append(names, name)
	}
	return names
}
