// Package types defines the shared primitives of the agentgraph engine:
// the structured error taxonomy, context key helpers, and the message and
// participant types exchanged between orchestrators.
package types
