package condition

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Eval reports whether p holds for f. Unknown fields read as null.
func Eval(p Predicate, f Fields) bool {
	switch v := p.(type) {
	case Equals:
		return equal(lookup(f, v.Field), v.Value, v.CaseSensitive)
	case Contains:
		return contains(lookup(f, v.Field), v.Value, v.CaseSensitive)
	case Regex:
		return anyString(lookup(f, v.Field), v.re.MatchString)
	case InList:
		value := lookup(f, v.Field)
		for _, candidate := range v.Values {
			if equal(value, candidate, v.CaseSensitive) {
				return true
			}
		}
		return false
	case NumericCompare:
		n, ok := toFloat(lookup(f, v.Field))
		if !ok {
			return false
		}
		return compare(n, v.Op, v.Value)
	case IsNull:
		return lookup(f, v.Field) == nil
	case IsEmpty:
		return isEmpty(lookup(f, v.Field))
	case And:
		for _, c := range v.Children {
			if !Eval(c, f) {
				return false
			}
		}
		return true
	case Or:
		for _, c := range v.Children {
			if Eval(c, f) {
				return true
			}
		}
		return false
	case Not:
		return !Eval(v.Child, f)
	default:
		panic(fmt.Sprintf("condition: unhandled predicate %T", p))
	}
}

func lookup(f Fields, name string) any {
	v, ok := f.Field(name)
	if !ok {
		return nil
	}
	switch val := v.(type) {
	case *float64:
		if val == nil {
			return nil
		}
		return *val
	case *string:
		if val == nil {
			return nil
		}
		return *val
	}
	return v
}

func equal(a, b any, caseSensitive bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if fa, ok := toNumber(a); ok {
		if fb, ok := toNumber(b); ok {
			return fa == fb
		}
	}

	if ba, ok := a.(bool); ok {
		bb, ok := b.(bool)
		return ok && ba == bb
	}

	sa, oka := a.(string)
	sb, okb := b.(string)
	if !oka || !okb {
		return false
	}
	sa, sb = strings.TrimSpace(sa), strings.TrimSpace(sb)
	if caseSensitive {
		return sa == sb
	}
	return strings.EqualFold(sa, sb)
}

func contains(value any, needle string, caseSensitive bool) bool {
	if !caseSensitive {
		needle = strings.ToLower(needle)
	}

	switch v := value.(type) {
	case string:
		if !caseSensitive {
			v = strings.ToLower(v)
		}
		return strings.Contains(v, needle)
	case []string, []any:
		return anyString(value, func(s string) bool { return equal(s, needle, caseSensitive) })
	default:
		return false
	}
}

func anyString(value any, fn func(string) bool) bool {
	switch v := value.(type) {
	case string:
		return fn(v)
	case []string:
		for _, s := range v {
			if fn(s) {
				return true
			}
		}
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok && fn(s) {
				return true
			}
		}
	}
	return false
}

func compare(n float64, op CompareOp, target float64) bool {
	switch op {
	case OpGT:
		return n > target
	case OpGTE:
		return n >= target
	case OpLT:
		return n < target
	case OpLTE:
		return n <= target
	case OpEQ:
		return n == target
	case OpNE:
		return n != target
	}
	return false
}

func isEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	case []string:
		return len(v) == 0
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	return false
}

// toNumber accepts only numeric types.
func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, !math.IsNaN(n)
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// toFloat also parses numeric strings.
func toFloat(v any) (float64, bool) {
	if n, ok := toNumber(v); ok {
		return n, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err == nil && !math.IsNaN(f) {
			return f, true
		}
	}
	return 0, false
}
