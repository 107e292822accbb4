package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluateGuard_NilGuardAlwaysTrue(t *testing.T) {
	t.Parallel()
	assert.True(t, EvaluateGuard(nil, nil))
	assert.True(t, EvaluateGuard(nil, map[string]any{"x": 1}))
}

func TestEvaluateGuard_Operators(t *testing.T) {
	t.Parallel()

	output := map[string]any{
		"ok":    true,
		"score": 7.5,
		"count": 3,
		"tag":   "billing",
		"result": map[string]any{
			"status": "done",
			"depth":  map[string]any{"level": 2},
		},
	}

	tests := []struct {
		name  string
		guard GuardExpr
		want  bool
	}{
		{"eq bool true", GuardExpr{Path: "ok", Op: OpEq, Value: true}, true},
		{"eq bool false", GuardExpr{Path: "ok", Op: OpEq, Value: false}, false},
		{"eq string", GuardExpr{Path: "tag", Op: OpEq, Value: "billing"}, true},
		{"ne string", GuardExpr{Path: "tag", Op: OpNe, Value: "refunds"}, true},
		{"eq int vs float", GuardExpr{Path: "count", Op: OpEq, Value: 3.0}, true},
		{"gt", GuardExpr{Path: "score", Op: OpGt, Value: 7}, true},
		{"lt", GuardExpr{Path: "score", Op: OpLt, Value: 7}, false},
		{"gte equal", GuardExpr{Path: "count", Op: OpGte, Value: 3}, true},
		{"lte equal", GuardExpr{Path: "count", Op: OpLte, Value: 3}, true},
		{"in hit", GuardExpr{Path: "tag", Op: OpIn, Value: []any{"billing", "sales"}}, true},
		{"in miss", GuardExpr{Path: "tag", Op: OpIn, Value: []any{"sales"}}, false},
		{"in string slice", GuardExpr{Path: "tag", Op: OpIn, Value: []string{"billing"}}, true},
		{"not_in hit", GuardExpr{Path: "tag", Op: OpNotIn, Value: []any{"sales"}}, true},
		{"not_in miss", GuardExpr{Path: "tag", Op: OpNotIn, Value: []any{"billing"}}, false},
		{"nested path", GuardExpr{Path: "result.status", Op: OpEq, Value: "done"}, true},
		{"deep nested path", GuardExpr{Path: "result.depth.level", Op: OpEq, Value: 2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, EvaluateGuard(&tt.guard, output))
		})
	}
}

// Type-mismatched comparisons evaluate to false rather than erroring.
func TestEvaluateGuard_PermissiveMismatches(t *testing.T) {
	t.Parallel()

	output := map[string]any{"tag": "billing", "ok": true}

	tests := []struct {
		name  string
		guard GuardExpr
	}{
		{"gt on string", GuardExpr{Path: "tag", Op: OpGt, Value: 1}},
		{"gt string literal", GuardExpr{Path: "ok", Op: OpLte, Value: "high"}},
		{"missing path", GuardExpr{Path: "absent", Op: OpEq, Value: 1}},
		{"path into scalar", GuardExpr{Path: "tag.inner", Op: OpEq, Value: 1}},
		{"empty path", GuardExpr{Path: "", Op: OpEq, Value: 1}},
		{"in on non-slice literal", GuardExpr{Path: "tag", Op: OpIn, Value: "billing"}},
		{"not_in on non-slice literal", GuardExpr{Path: "tag", Op: OpNotIn, Value: "billing"}},
		{"unknown operator", GuardExpr{Path: "tag", Op: Operator("matches"), Value: "b.*"}},
		{"non-map output", GuardExpr{Path: "tag", Op: OpEq, Value: "billing"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out := any(output)
			if tt.name == "non-map output" {
				out = "just a string"
			}
			assert.False(t, EvaluateGuard(&tt.guard, out))
		})
	}
}
