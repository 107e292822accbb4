package graph

import (
	"reflect"
	"strings"
)

// EvaluateGuard evaluates a guard expression against a node's output.
// A nil guard always evaluates to true. The guard path is resolved by
// splitting on "." and indexing into nested maps; comparisons between
// mismatched types evaluate to false rather than erroring, so a bad guard
// silently suppresses its edge instead of failing the run.
//
// The function is pure: the same (guard, output) pair always yields the
// same result.
func EvaluateGuard(guard *GuardExpr, output any) bool {
	if guard == nil {
		return true
	}

	value, ok := resolvePath(output, guard.Path)
	if !ok {
		return false
	}

	switch guard.Op {
	case OpEq:
		return looseEqual(value, guard.Value)
	case OpNe:
		return !looseEqual(value, guard.Value)
	case OpGt, OpLt, OpGte, OpLte:
		a, aok := toFloat(value)
		b, bok := toFloat(guard.Value)
		if !aok || !bok {
			return false
		}
		switch guard.Op {
		case OpGt:
			return a > b
		case OpLt:
			return a < b
		case OpGte:
			return a >= b
		default:
			return a <= b
		}
	case OpIn:
		return containedIn(value, guard.Value)
	case OpNotIn:
		members, ok := toSlice(guard.Value)
		if !ok {
			return false
		}
		for _, m := range members {
			if looseEqual(value, m) {
				return false
			}
		}
		return true
	}
	return false
}

// resolvePath walks dot-separated segments through nested maps.
func resolvePath(output any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}
	current := output
	for _, seg := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// looseEqual compares values, treating all numeric types as float64 so
// JSON-decoded numbers compare equal to Go integer literals.
func looseEqual(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	if aok != bok {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func containedIn(value, literal any) bool {
	members, ok := toSlice(literal)
	if !ok {
		return false
	}
	for _, m := range members {
		if looseEqual(value, m) {
			return true
		}
	}
	return false
}

func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []int:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	case []float64:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out, true
	}
	return nil, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
