package audit

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/spigell/occumatch/internal/rules"
	"github.com/spigell/occumatch/internal/store"
)

type RuleStatus string

const (
	StatusProblematic      RuleStatus = "problematic"
	StatusValidated        RuleStatus = "validated"
	StatusInconclusive     RuleStatus = "inconclusive"
	StatusInsufficientData RuleStatus = "insufficient_data"
)

type AuditorConfig struct {
	MinFirings    int     `mapstructure:"min-firings"`
	LowAgreement  float64 `mapstructure:"low-agreement"`
	HighAgreement float64 `mapstructure:"high-agreement"`
	HighSemantic  float64 `mapstructure:"high-semantic"`
}

func DefaultAuditorConfig() AuditorConfig {
	return AuditorConfig{
		MinFirings:    5,
		LowAgreement:  0.3,
		HighAgreement: 0.7,
		HighSemantic:  0.7,
	}
}

// RuleStats are the aggregates of one rule's firing log.
type RuleStats struct {
	RuleID        string  `json:"rule_id"`
	Firings       int     `json:"firings"`
	Agreements    int     `json:"agreements"`
	AgreementRate float64 `json:"agreement_rate"`
	// MeanDisagreeingScore is the mean semantic score over firings that disagreed.
	MeanDisagreeingScore float64    `json:"mean_disagreeing_score"`
	Status               RuleStatus `json:"status"`
}

// RuleAuditor computes rule effectiveness from the firing log. Read-only.
type RuleAuditor struct {
	store store.Store
	cfg   AuditorConfig
}

func NewRuleAuditor(st store.Store, cfg AuditorConfig) *RuleAuditor {
	if cfg.MinFirings <= 0 {
		cfg.MinFirings = DefaultAuditorConfig().MinFirings
	}
	return &RuleAuditor{store: st, cfg: cfg}
}

// Audit reports on every rule id in ids and on every rule present in the log,
// ordered by rule id.
func (a *RuleAuditor) Audit(ctx context.Context, ids []string) ([]RuleStats, error) {
	firings, err := a.store.ListFirings(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("list firings: %w", err)
	}

	byRule := make(map[string][]rules.Firing)
	for _, id := range ids {
		byRule[id] = nil
	}
	for _, f := range firings {
		byRule[f.RuleID] = append(byRule[f.RuleID], f)
	}

	out := make([]RuleStats, 0, len(byRule))
	for _, id := range sortedKeys(byRule) {
		out = append(out, a.stats(id, byRule[id]))
	}
	return out, nil
}

func (a *RuleAuditor) stats(id string, firings []rules.Firing) RuleStats {
	s := RuleStats{RuleID: id, Firings: len(firings)}

	sum, disagreements := 0.0, 0
	for _, f := range firings {
		if f.AgreesWithSemantic {
			s.Agreements++
			continue
		}
		sum += f.SemanticScore
		disagreements++
	}
	if s.Firings > 0 {
		s.AgreementRate = round(float64(s.Agreements) / float64(s.Firings))
	}
	if disagreements > 0 {
		s.MeanDisagreeingScore = round(sum / float64(disagreements))
	}

	switch {
	case s.Firings < a.cfg.MinFirings:
		s.Status = StatusInsufficientData
	case s.AgreementRate < a.cfg.LowAgreement && s.MeanDisagreeingScore >= a.cfg.HighSemantic:
		s.Status = StatusProblematic
	case s.AgreementRate > a.cfg.HighAgreement:
		s.Status = StatusValidated
	default:
		s.Status = StatusInconclusive
	}
	return s
}

// Report is the audit output written by the audit command.
type Report struct {
	Rules    []RuleStats      `json:"rules"`
	Clusters []PatternCluster `json:"clusters"`
}

// Run computes both halves of the audit.
func Run(ctx context.Context, auditor *RuleAuditor, miner *PatternMiner, ids []string) (*Report, error) {
	stats, err := auditor.Audit(ctx, ids)
	if err != nil {
		return nil, err
	}
	clusters, err := miner.Mine(ctx)
	if err != nil {
		return nil, fmt.Errorf("mine diagnostics: %w", err)
	}
	if clusters == nil {
		clusters = []PatternCluster{}
	}
	return &Report{Rules: stats, Clusters: clusters}, nil
}

// Problematic returns the ids of rules the audit flagged.
func (r *Report) Problematic() []string {
	var ids []string
	for _, s := range r.Rules {
		if s.Status == StatusProblematic {
			ids = append(ids, s.RuleID)
		}
	}
	sort.Strings(ids)
	return ids
}

func round(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
