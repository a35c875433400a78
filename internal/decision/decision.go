package decision

import (
	"fmt"
	"math"

	"github.com/spigell/occumatch/internal/retrieval"
	"github.com/spigell/occumatch/internal/rules"
)

type Method string

const (
	MethodSemantic      Method = "matched_semantic"
	MethodRule          Method = "matched_rule"
	MethodOverride      Method = "override_rule_over_semantic"
	MethodFlagForReview Method = "flag_for_review"
	MethodNoMatch       Method = "no_match"
)

// Config holds the tuning knobs of the policy. None of the defaults is
// authoritative; they are starting points for a dataset.
type Config struct {
	MinSimilarity       float64 `mapstructure:"min-similarity"`
	LowConfidence       float64 `mapstructure:"low-confidence"`
	HighConfidence      float64 `mapstructure:"high-confidence"`
	AgreementBoost      float64 `mapstructure:"agreement-boost"`
	RulePrior           float64 `mapstructure:"rule-prior"`
	DisagreementPenalty float64 `mapstructure:"disagreement-penalty"`
}

func DefaultConfig() Config {
	return Config{
		MinSimilarity:       0.35,
		LowConfidence:       0.5,
		HighConfidence:      0.8,
		AgreementBoost:      0.5,
		RulePrior:           0.7,
		DisagreementPenalty: 0.6,
	}
}

func (c Config) Validate() error {
	for name, v := range map[string]float64{
		"min-similarity":       c.MinSimilarity,
		"low-confidence":       c.LowConfidence,
		"high-confidence":      c.HighConfidence,
		"agreement-boost":      c.AgreementBoost,
		"rule-prior":           c.RulePrior,
		"disagreement-penalty": c.DisagreementPenalty,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("decision %s must be within [0, 1], got %v", name, v)
		}
	}
	if c.LowConfidence > c.HighConfidence {
		return fmt.Errorf("decision low-confidence %v is above high-confidence %v", c.LowConfidence, c.HighConfidence)
	}
	return nil
}

// Outcome is the reconciled decision for one posting.
type Outcome struct {
	Method         Method
	OccupationCode string
	Confidence     float64
	// SemanticScore is the rerank score of the best candidate, or its similarity when unranked.
	SemanticScore float64
	SemanticCode  string
	Rule          *rules.BusinessRule
}

// Policy reconciles the rule path and the semantic path.
type Policy struct {
	cfg Config
}

func New(cfg Config) (*Policy, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Policy{cfg: cfg}, nil
}

func (p *Policy) Config() Config {
	return p.cfg
}

// Decide picks the final occupation. candidates must already be in final rank order.
func (p *Policy) Decide(candidates []retrieval.Candidate, rule *rules.BusinessRule) Outcome {
	var out Outcome
	out.Rule = rule

	hasSemantic := len(candidates) > 0
	if hasSemantic {
		out.SemanticCode = candidates[0].Code
		out.SemanticScore = clamp(candidates[0].Score())
	}
	s := out.SemanticScore

	switch {
	case rule == nil && (!hasSemantic || s < p.cfg.MinSimilarity):
		out.Method = MethodNoMatch
		out.Confidence = s
	case rule == nil:
		out.Method = MethodSemantic
		out.OccupationCode = out.SemanticCode
		out.Confidence = s
	case !hasSemantic:
		out.Method = MethodRule
		out.OccupationCode = rule.Action.OccupationCode
		out.Confidence = p.disagreement(0)
	case out.SemanticCode == rule.Action.OccupationCode:
		out.Method = MethodSemantic
		out.OccupationCode = out.SemanticCode
		out.Confidence = p.agreement(s)
	case s >= p.cfg.HighConfidence:
		// the semantic choice is kept and the conflict is surfaced for review
		out.Method = MethodFlagForReview
		out.OccupationCode = out.SemanticCode
		out.Confidence = p.disagreement(s)
	case s < p.cfg.LowConfidence:
		out.Method = MethodOverride
		out.OccupationCode = rule.Action.OccupationCode
		out.Confidence = p.disagreement(s)
	default:
		out.Method = MethodRule
		out.OccupationCode = rule.Action.OccupationCode
		out.Confidence = p.disagreement(s)
	}

	out.Confidence = round(clamp(out.Confidence))
	return out
}

// agreement is non-decreasing in s and never below s or the rule prior.
func (p *Policy) agreement(s float64) float64 {
	return math.Max(s+(1-s)*p.cfg.AgreementBoost, p.cfg.RulePrior)
}

// disagreement is non-increasing in s and never above the rule prior.
func (p *Policy) disagreement(s float64) float64 {
	return p.cfg.RulePrior * (1 - p.cfg.DisagreementPenalty*s)
}

func clamp(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
