// Package graph defines the immutable workflow graph model: typed nodes,
// directed edges with optional guard expressions, build-time validation,
// and the guard condition evaluator.
//
// A Graph is constructed through a Builder and never mutated afterwards,
// so a single instance is safely shared by any number of concurrent
// executions.
package graph
