package types

import "context"

// contextKey is used for storing values in context.Context.
type contextKey string

const (
	keyExecutionID contextKey = "execution_id"
	keyTraceID     contextKey = "trace_id"
	keyDepth       contextKey = "nesting_depth"
)

// WithExecutionID adds an execution ID to context.
func WithExecutionID(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, keyExecutionID, executionID)
}

// ExecutionID extracts the execution ID from context.
func ExecutionID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyExecutionID).(string)
	return v, ok && v != ""
}

// WithTraceID adds a trace ID to context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, keyTraceID, traceID)
}

// TraceID extracts the trace ID from context.
func TraceID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(keyTraceID).(string)
	return v, ok && v != ""
}

// WithDepth stores the current nesting depth in context. The depth is
// carried through the call chain rather than kept on a shared object so
// concurrent child workflows never observe each other's counters.
func WithDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, keyDepth, depth)
}

// Depth extracts the nesting depth from context. Zero when unset.
func Depth(ctx context.Context) int {
	v, ok := ctx.Value(keyDepth).(int)
	if !ok {
		return 0
	}
	return v
}
