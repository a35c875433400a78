package condition

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

const (
	OpEquals  = "equals"
	OpContain = "contains"
	OpRegex   = "regex"
	OpInList  = "in_list"
	OpIsNull  = "is_null"
	OpIsEmpty = "is_empty"
)

// Spec is the declarative form of a condition as written in rule documents.
// A spec is either a group (all, any, not) or a leaf (field, op, value).
type Spec struct {
	All           []Spec `mapstructure:"all" yaml:"all,omitempty" json:"all,omitempty"`
	Any           []Spec `mapstructure:"any" yaml:"any,omitempty" json:"any,omitempty"`
	Not           *Spec  `mapstructure:"not" yaml:"not,omitempty" json:"not,omitempty"`
	Field         string `mapstructure:"field" yaml:"field,omitempty" json:"field,omitempty"`
	Op            string `mapstructure:"op" yaml:"op,omitempty" json:"op,omitempty"`
	Value         any    `mapstructure:"value" yaml:"value,omitempty" json:"value,omitempty"`
	Values        []any  `mapstructure:"values" yaml:"values,omitempty" json:"values,omitempty"`
	CaseSensitive bool   `mapstructure:"case_sensitive" yaml:"case_sensitive,omitempty" json:"case_sensitive,omitempty"`
}

// ParseError describes a malformed condition. Path locates the offending node.
type ParseError struct {
	Path string
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return "condition: " + e.Msg
	}
	return fmt.Sprintf("condition %s: %s", e.Path, e.Msg)
}

// Decode converts a generic document value into a Spec.
func Decode(raw any) (Spec, error) {
	var spec Spec
	if raw == nil {
		return spec, &ParseError{Msg: "condition is required"}
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &spec,
		ErrorUnused: true,
	})
	if err != nil {
		return spec, err
	}
	if err := decoder.Decode(raw); err != nil {
		return spec, &ParseError{Msg: err.Error()}
	}
	return spec, nil
}

// Parse decodes and compiles a generic document value.
func Parse(raw any) (Predicate, error) {
	spec, err := Decode(raw)
	if err != nil {
		return nil, err
	}
	return Compile(spec)
}

// Compile validates a Spec and builds its predicate tree.
func Compile(spec Spec) (Predicate, error) {
	return compile(spec, "$")
}

func compile(s Spec, path string) (Predicate, error) {
	groups := 0
	if len(s.All) > 0 {
		groups++
	}
	if len(s.Any) > 0 {
		groups++
	}
	if s.Not != nil {
		groups++
	}
	leaf := s.Field != "" || s.Op != ""

	switch {
	case groups > 1 || (groups == 1 && leaf):
		return nil, &ParseError{Path: path, Msg: "a node must be exactly one of all, any, not or a field predicate"}
	case len(s.All) > 0:
		children, err := compileList(s.All, path+".all")
		if err != nil {
			return nil, err
		}
		return And{Children: children}, nil
	case len(s.Any) > 0:
		children, err := compileList(s.Any, path+".any")
		if err != nil {
			return nil, err
		}
		return Or{Children: children}, nil
	case s.Not != nil:
		child, err := compile(*s.Not, path+".not")
		if err != nil {
			return nil, err
		}
		return Not{Child: child}, nil
	case !leaf:
		return nil, &ParseError{Path: path, Msg: "empty condition"}
	}

	return compileLeaf(s, path)
}

func compileList(specs []Spec, path string) ([]Predicate, error) {
	out := make([]Predicate, 0, len(specs))
	for i, s := range specs {
		p, err := compile(s, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func compileLeaf(s Spec, path string) (Predicate, error) {
	field := strings.TrimSpace(s.Field)
	if field == "" {
		return nil, &ParseError{Path: path, Msg: "field is required"}
	}

	op := strings.ToLower(strings.TrimSpace(s.Op))
	switch op {
	case OpEquals:
		return Equals{Field: field, Value: s.Value, CaseSensitive: s.CaseSensitive}, nil
	case OpContain:
		str, ok := s.Value.(string)
		if !ok || str == "" {
			return nil, &ParseError{Path: path, Msg: "contains needs a non-empty string value"}
		}
		return Contains{Field: field, Value: str, CaseSensitive: s.CaseSensitive}, nil
	case OpRegex:
		pattern, ok := s.Value.(string)
		if !ok || pattern == "" {
			return nil, &ParseError{Path: path, Msg: "regex needs a pattern"}
		}
		re, err := NewRegex(field, pattern)
		if err != nil {
			return nil, &ParseError{Path: path, Msg: fmt.Sprintf("invalid regex: %v", err)}
		}
		return re, nil
	case OpInList:
		if len(s.Values) == 0 {
			return nil, &ParseError{Path: path, Msg: "in_list needs values"}
		}
		return InList{Field: field, Values: s.Values, CaseSensitive: s.CaseSensitive}, nil
	case OpIsNull:
		return IsNull{Field: field}, nil
	case OpIsEmpty:
		return IsEmpty{Field: field}, nil
	case string(OpGT), string(OpGTE), string(OpLT), string(OpLTE), string(OpEQ), string(OpNE):
		n, ok := toFloat(s.Value)
		if !ok {
			return nil, &ParseError{Path: path, Msg: fmt.Sprintf("%s needs a numeric value", op)}
		}
		return NumericCompare{Field: field, Op: CompareOp(op), Value: n}, nil
	case "":
		return nil, &ParseError{Path: path, Msg: "op is required"}
	default:
		return nil, &ParseError{Path: path, Msg: fmt.Sprintf("unknown op %q", s.Op)}
	}
}
