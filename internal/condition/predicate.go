package condition

import "regexp"

// Fields is the read-only view a predicate is evaluated against.
type Fields interface {
	Field(name string) (any, bool)
}

// Predicate is one node of a compiled condition tree. The set of
// implementations is closed; Eval switches over all of them.
type Predicate interface {
	predicate()
}

type CompareOp string

const (
	OpGT  CompareOp = "gt"
	OpGTE CompareOp = "gte"
	OpLT  CompareOp = "lt"
	OpLTE CompareOp = "lte"
	OpEQ  CompareOp = "eq"
	OpNE  CompareOp = "ne"
)

type Equals struct {
	Field         string
	Value         any
	CaseSensitive bool
}

// Contains matches a substring of a string field or an element of a list field.
type Contains struct {
	Field         string
	Value         string
	CaseSensitive bool
}

type Regex struct {
	Field string
	re    *regexp.Regexp
}

type InList struct {
	Field         string
	Values        []any
	CaseSensitive bool
}

type NumericCompare struct {
	Field string
	Op    CompareOp
	Value float64
}

type IsNull struct {
	Field string
}

type IsEmpty struct {
	Field string
}

type And struct {
	Children []Predicate
}

type Or struct {
	Children []Predicate
}

type Not struct {
	Child Predicate
}

func (Equals) predicate()         {}
func (Contains) predicate()       {}
func (Regex) predicate()          {}
func (InList) predicate()         {}
func (NumericCompare) predicate() {}
func (IsNull) predicate()         {}
func (IsEmpty) predicate()        {}
func (And) predicate()            {}
func (Or) predicate()             {}
func (Not) predicate()            {}

// NewRegex compiles pattern into a Regex predicate.
func NewRegex(field, pattern string) (Regex, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Regex{}, err
	}
	return Regex{Field: field, re: re}, nil
}

// Referenced returns the field names a predicate reads, in first-use order.
func Referenced(p Predicate) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}

	var walk func(Predicate)
	walk = func(p Predicate) {
		switch v := p.(type) {
		case Equals:
			add(v.Field)
		case Contains:
			add(v.Field)
		case Regex:
			add(v.Field)
		case InList:
			add(v.Field)
		case NumericCompare:
			add(v.Field)
		case IsNull:
			add(v.Field)
		case IsEmpty:
			add(v.Field)
		case And:
			for _, c := range v.Children {
				walk(c)
			}
		case Or:
			for _, c := range v.Children {
				walk(c)
			}
		case Not:
			walk(v.Child)
		}
	}
	walk(p)
	return out
}
