package validation

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/spigell/occumatch/internal/condition"
	"github.com/spigell/occumatch/internal/match"
	"github.com/spigell/occumatch/internal/rules"
)

const DocumentKey = "validation_rules"

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

type ActionType string

const (
	ActionAutoCorrect ActionType = "auto_correct"
	ActionReprocess   ActionType = "reprocess_with_config"
	ActionEscalate    ActionType = "escalate"
)

type Transform string

const (
	TransformSetNull         Transform = "set_null"
	TransformSetValue        Transform = "set_value"
	TransformCopyFrom        Transform = "copy_from"
	TransformMapValue        Transform = "map_value"
	TransformDeriveGroupCode Transform = "derive_group_code"
)

// CorrectionAction says what the corrector does with a diagnostic.
type CorrectionAction struct {
	Type      ActionType     `mapstructure:"type" yaml:"type" json:"type"`
	Transform Transform      `mapstructure:"transform" yaml:"transform,omitempty" json:"transform,omitempty"`
	Field     string         `mapstructure:"field" yaml:"field,omitempty" json:"field,omitempty"`
	Value     any            `mapstructure:"value" yaml:"value,omitempty" json:"value,omitempty"`
	Source    string         `mapstructure:"source" yaml:"source,omitempty" json:"source,omitempty"`
	Mapping   map[string]any `mapstructure:"mapping" yaml:"mapping,omitempty" json:"mapping,omitempty"`
	// Section is the business rule id or configuration section a reprocess depends on.
	Section string `mapstructure:"section" yaml:"section,omitempty" json:"section,omitempty"`
}

// Rule detects a data-quality problem on a processed record.
type Rule struct {
	ID          string            `mapstructure:"id" yaml:"id" json:"id"`
	Description string            `mapstructure:"description" yaml:"description,omitempty" json:"description,omitempty"`
	Condition   condition.Spec    `mapstructure:"condition" yaml:"condition" json:"condition"`
	Code        string            `mapstructure:"diagnostic_code" yaml:"diagnostic_code" json:"diagnostic_code"`
	Severity    Severity          `mapstructure:"severity" yaml:"severity" json:"severity"`
	Field       string            `mapstructure:"field" yaml:"field,omitempty" json:"field,omitempty"`
	Correction  *CorrectionAction `mapstructure:"correction" yaml:"correction,omitempty" json:"correction,omitempty"`
	Active      *bool             `mapstructure:"active" yaml:"active,omitempty" json:"active,omitempty"`

	predicate condition.Predicate
}

func (r *Rule) IsActive() bool {
	return r.Active == nil || *r.Active
}

// Matches evaluates the compiled condition. Rules outside a Set never match.
func (r *Rule) Matches(f condition.Fields) bool {
	if r.predicate == nil {
		return false
	}
	return condition.Eval(r.predicate, f)
}

// Action returns the correction type, defaulting to escalation.
func (r *Rule) Action() ActionType {
	if r.Correction == nil || r.Correction.Type == "" {
		return ActionEscalate
	}
	return r.Correction.Type
}

// TargetField is the field an auto correction writes.
func (r *Rule) TargetField() string {
	if r.Correction != nil && r.Correction.Field != "" {
		return r.Correction.Field
	}
	return r.Field
}

// Set is an immutable list of validation rules ordered by id.
type Set struct {
	rules []*Rule
	byID  map[string]*Rule
}

func NewSet(list []*Rule) (*Set, error) {
	s := &Set{byID: make(map[string]*Rule, len(list))}
	for i, r := range list {
		r.ID = strings.TrimSpace(r.ID)
		if r.ID == "" {
			return nil, &rules.ConfigError{Err: fmt.Errorf("validation rule #%d: id is required", i)}
		}
		if _, dup := s.byID[r.ID]; dup {
			return nil, &rules.ConfigError{RuleID: r.ID, Err: errors.New("duplicate validation rule id")}
		}
		if strings.TrimSpace(r.Code) == "" {
			return nil, &rules.ConfigError{RuleID: r.ID, Err: errors.New("diagnostic_code is required")}
		}
		switch r.Severity {
		case "":
			r.Severity = SeverityWarning
		case SeverityInfo, SeverityWarning, SeverityError:
		default:
			return nil, &rules.ConfigError{RuleID: r.ID, Err: fmt.Errorf("unknown severity %q", r.Severity)}
		}

		p, err := condition.Compile(r.Condition)
		if err != nil {
			return nil, &rules.ConfigError{RuleID: r.ID, Err: err}
		}
		r.predicate = p
		// a condition on a single field names the field the diagnostic is about
		if r.Field == "" {
			if refs := condition.Referenced(p); len(refs) == 1 {
				r.Field = refs[0]
			}
		}

		if err := validateCorrection(r); err != nil {
			return nil, &rules.ConfigError{RuleID: r.ID, Err: err}
		}

		s.byID[r.ID] = r
		s.rules = append(s.rules, r)
	}

	sort.Slice(s.rules, func(i, j int) bool { return s.rules[i].ID < s.rules[j].ID })
	return s, nil
}

func validateCorrection(r *Rule) error {
	c := r.Correction
	if c == nil {
		return nil
	}

	switch c.Type {
	case "", ActionEscalate:
		return nil
	case ActionReprocess:
		if strings.TrimSpace(c.Section) == "" {
			return errors.New("reprocess_with_config requires a section")
		}
		return nil
	case ActionAutoCorrect:
	default:
		return fmt.Errorf("unknown correction type %q", c.Type)
	}

	if c.Transform == TransformDeriveGroupCode {
		return nil
	}

	field := r.TargetField()
	if field == "" {
		return fmt.Errorf("%s requires a field", c.Transform)
	}
	// only posting-derived attributes may be repaired
	if match.IsBuiltin(field) {
		return fmt.Errorf("field %q is computed and cannot be corrected", field)
	}

	switch c.Transform {
	case TransformSetNull, TransformSetValue:
	case TransformCopyFrom:
		if c.Source == "" {
			return errors.New("copy_from requires a source")
		}
	case TransformMapValue:
		if len(c.Mapping) == 0 {
			return errors.New("map_value requires a mapping")
		}
	default:
		return fmt.Errorf("unknown transform %q", c.Transform)
	}
	return nil
}

func (s *Set) Get(id string) (*Rule, bool) {
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

// Rules returns the rules ordered by id.
func (s *Set) Rules() []*Rule {
	if s == nil {
		return nil
	}
	return s.rules
}

func Decode(raw map[string]any) (*Rule, error) {
	var r Rule
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

// Load reads validation rules from YAML or JSON files and directories.
func Load(paths []string) (*Set, error) {
	entries, err := rules.ReadList(paths, DocumentKey)
	if err != nil {
		return nil, err
	}

	list := make([]*Rule, 0, len(entries))
	for _, e := range entries {
		r, err := Decode(e.Raw)
		if err != nil {
			id, _ := e.Raw["id"].(string)
			return nil, &rules.ConfigError{Source: e.Source, RuleID: id, Err: err}
		}
		list = append(list, r)
	}
	return NewSet(list)
}
