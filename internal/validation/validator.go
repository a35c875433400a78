package validation

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/spigell/occumatch/internal/logger"
	"github.com/spigell/occumatch/internal/match"
)

// Validator runs the current validation rules against processed records.
// It never writes anything.
type Validator struct {
	current atomic.Pointer[Set]
	paths   []string
	logger  *zap.Logger
}

func NewValidator(set *Set, paths []string, log *zap.Logger) *Validator {
	v := &Validator{
		paths:  paths,
		logger: logger.WithFields(log, zap.String(logger.FieldStage, "validate")),
	}
	if set == nil {
		set = &Set{byID: map[string]*Rule{}}
	}
	v.current.Store(set)
	return v
}

func (v *Validator) Current() *Set {
	return v.current.Load()
}

// Rule looks up a validation rule in the current set.
func (v *Validator) Rule(id string) (*Rule, bool) {
	return v.Current().Get(id)
}

// Validate returns one diagnostic per active matching rule, ordered by rule id.
func (v *Validator) Validate(r *match.Result) []Diagnostic {
	var out []Diagnostic
	for _, rule := range v.Current().Rules() {
		if !rule.IsActive() || !rule.Matches(r) {
			continue
		}
		out = append(out, Diagnostic{
			PostingID: r.PostingID,
			RuleID:    rule.ID,
			Code:      rule.Code,
			Severity:  rule.Severity,
			Field:     rule.Field,
		})
	}
	return out
}

// Reload re-reads the rule files, keeping the previous set on error.
func (v *Validator) Reload() error {
	set, err := Load(v.paths)
	if err != nil {
		v.logger.Error("validation rule reload rejected, keeping previous rules", zap.Error(err))
		return err
	}
	prev := v.current.Swap(set)
	v.logger.Info("validation rules reloaded", zap.Int("previous", prev.Len()), zap.Int("current", set.Len()))
	return nil
}
