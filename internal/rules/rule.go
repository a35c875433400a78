package rules

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/spigell/occumatch/internal/condition"
	"github.com/spigell/occumatch/internal/taxonomy"
)

const DocumentKey = "rules"

// Action is what a business rule forces when it fires.
type Action struct {
	OccupationCode string   `mapstructure:"occupation_code" yaml:"occupation_code" json:"occupation_code"`
	SkillCodes     []string `mapstructure:"skill_codes" yaml:"skill_codes,omitempty" json:"skill_codes,omitempty"`
	Score          *float64 `mapstructure:"score" yaml:"score,omitempty" json:"score,omitempty"`
}

// BusinessRule forces an occupation for postings matching its condition.
type BusinessRule struct {
	ID          string         `mapstructure:"id" yaml:"id" json:"id"`
	Description string         `mapstructure:"description" yaml:"description,omitempty" json:"description,omitempty"`
	Priority    int            `mapstructure:"priority" yaml:"priority" json:"priority"`
	Active      *bool          `mapstructure:"active" yaml:"active,omitempty" json:"active,omitempty"`
	Condition   condition.Spec `mapstructure:"condition" yaml:"condition" json:"condition"`
	Action      Action         `mapstructure:"action" yaml:"action" json:"action"`

	predicate condition.Predicate
}

func (r *BusinessRule) IsActive() bool {
	return r.Active == nil || *r.Active
}

// Matches evaluates the compiled condition. Rules outside a Set never match.
func (r *BusinessRule) Matches(f condition.Fields) bool {
	if r.predicate == nil {
		return false
	}
	return condition.Eval(r.predicate, f)
}

// Set is an immutable, validated rule list ordered by priority descending, then id.
type Set struct {
	rules []*BusinessRule
	byID  map[string]*BusinessRule
}

// NewSet compiles and validates rules against the taxonomy.
func NewSet(list []*BusinessRule, store *taxonomy.Store) (*Set, error) {
	s := &Set{byID: make(map[string]*BusinessRule, len(list))}

	for i, r := range list {
		r.ID = strings.TrimSpace(r.ID)
		if r.ID == "" {
			return nil, &ConfigError{Err: fmt.Errorf("rule #%d: id is required", i)}
		}
		if _, dup := s.byID[r.ID]; dup {
			return nil, &ConfigError{RuleID: r.ID, Err: errors.New("duplicate rule id")}
		}

		p, err := condition.Compile(r.Condition)
		if err != nil {
			return nil, &ConfigError{RuleID: r.ID, Err: err}
		}
		r.predicate = p

		if err := validateAction(r.Action, store); err != nil {
			return nil, &ConfigError{RuleID: r.ID, Err: err}
		}

		s.byID[r.ID] = r
		s.rules = append(s.rules, r)
	}

	sort.SliceStable(s.rules, func(i, j int) bool {
		if s.rules[i].Priority != s.rules[j].Priority {
			return s.rules[i].Priority > s.rules[j].Priority
		}
		return s.rules[i].ID < s.rules[j].ID
	})
	return s, nil
}

func validateAction(a Action, store *taxonomy.Store) error {
	if strings.TrimSpace(a.OccupationCode) == "" {
		return errors.New("action.occupation_code is required")
	}
	if store == nil {
		return errors.New("taxonomy is required to validate rule actions")
	}
	if !store.Has(a.OccupationCode, taxonomy.KindOccupation) {
		return fmt.Errorf("unknown occupation code %q", a.OccupationCode)
	}
	for _, code := range a.SkillCodes {
		if !store.Has(code, taxonomy.KindSkill) {
			return fmt.Errorf("unknown skill code %q", code)
		}
	}
	if a.Score != nil && (*a.Score < 0 || *a.Score > 1) {
		return fmt.Errorf("score %v is outside [0, 1]", *a.Score)
	}
	return nil
}

// Match returns the first active rule whose condition holds, or nil.
func (s *Set) Match(f condition.Fields) *BusinessRule {
	if s == nil {
		return nil
	}
	for _, r := range s.rules {
		if !r.IsActive() {
			continue
		}
		if r.Matches(f) {
			return r
		}
	}
	return nil
}

func (s *Set) Get(id string) (*BusinessRule, bool) {
	if s == nil {
		return nil, false
	}
	r, ok := s.byID[id]
	return r, ok
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.rules)
}

// Rules returns the rules in evaluation order.
func (s *Set) Rules() []*BusinessRule {
	if s == nil {
		return nil
	}
	return s.rules
}

// Decode converts a document entry into a rule.
func Decode(raw map[string]any) (*BusinessRule, error) {
	var r BusinessRule
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &r,
		ErrorUnused:      true,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, err
	}
	return &r, nil
}

// Load reads business rules from YAML or JSON files and directories.
func Load(paths []string, store *taxonomy.Store) (*Set, error) {
	entries, err := ReadList(paths, DocumentKey)
	if err != nil {
		return nil, err
	}

	list := make([]*BusinessRule, 0, len(entries))
	for _, e := range entries {
		r, err := Decode(e.Raw)
		if err != nil {
			id, _ := e.Raw["id"].(string)
			return nil, &ConfigError{Source: e.Source, RuleID: id, Err: err}
		}
		list = append(list, r)
	}

	return NewSet(list, store)
}
