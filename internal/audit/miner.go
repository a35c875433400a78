package audit

import (
	"context"
	"sort"

	"github.com/spigell/occumatch/internal/condition"
	"github.com/spigell/occumatch/internal/match"
	"github.com/spigell/occumatch/internal/store"
	"github.com/spigell/occumatch/internal/utils"
	"github.com/spigell/occumatch/internal/validation"
)

type ProposalKind string

const (
	ProposalBusinessRule   ProposalKind = "business_rule"
	ProposalValidationRule ProposalKind = "validation_rule"
)

// Proposal is a draft rule for curators. It is never applied automatically.
type Proposal struct {
	Kind             ProposalKind   `json:"kind"`
	Condition        condition.Spec `json:"condition"`
	OccupationCode   string         `json:"occupation_code,omitempty"`
	DiagnosticCode   string         `json:"diagnostic_code,omitempty"`
	SupportingTokens []string       `json:"supporting_tokens,omitempty"`
}

type Example struct {
	PostingID      string `json:"posting_id"`
	Title          string `json:"title"`
	OccupationCode string `json:"occupation_code"`
}

// PatternCluster groups unresolved escalations sharing a diagnostic code.
type PatternCluster struct {
	Code     string    `json:"code"`
	Count    int       `json:"count"`
	Field    string    `json:"field,omitempty"`
	RuleIDs  []string  `json:"rule_ids"`
	Examples []Example `json:"examples"`
	Proposal *Proposal `json:"proposal,omitempty"`
}

type MinerConfig struct {
	MinClusterSize int `mapstructure:"min-cluster-size"`
	MaxExamples    int `mapstructure:"max-examples"`
	// BusinessRuleCodes are the diagnostic codes that call for a business rule draft.
	BusinessRuleCodes []string `mapstructure:"business-rule-codes"`
}

func DefaultMinerConfig() MinerConfig {
	return MinerConfig{
		MinClusterSize:    3,
		MaxExamples:       5,
		BusinessRuleCodes: []string{validation.CodeRuleSemanticConflict},
	}
}

// PatternMiner reads the diagnostic log and proposes rules. Read-only.
type PatternMiner struct {
	store store.Store
	cfg   MinerConfig
}

func NewPatternMiner(st store.Store, cfg MinerConfig) *PatternMiner {
	def := DefaultMinerConfig()
	if cfg.MinClusterSize <= 0 {
		cfg.MinClusterSize = def.MinClusterSize
	}
	if cfg.MaxExamples <= 0 {
		cfg.MaxExamples = def.MaxExamples
	}
	if cfg.BusinessRuleCodes == nil {
		cfg.BusinessRuleCodes = def.BusinessRuleCodes
	}
	return &PatternMiner{store: st, cfg: cfg}
}

// Mine returns clusters ordered by count descending, then code.
func (m *PatternMiner) Mine(ctx context.Context) ([]PatternCluster, error) {
	list, err := m.store.ListDiagnostics(ctx, store.DiagnosticFilter{Escalated: true})
	if err != nil {
		return nil, err
	}

	byCode := make(map[string][]validation.Diagnostic)
	for _, d := range list {
		byCode[d.Code] = append(byCode[d.Code], d)
	}

	var clusters []PatternCluster
	for code, diags := range byCode {
		postings := make(map[string]struct{})
		ruleIDs := make(map[string]struct{})
		field := ""
		for _, d := range diags {
			postings[d.PostingID] = struct{}{}
			ruleIDs[d.RuleID] = struct{}{}
			if field == "" {
				field = d.Field
			}
		}
		if len(postings) < m.cfg.MinClusterSize {
			continue
		}

		results, err := m.results(ctx, postings)
		if err != nil {
			return nil, err
		}

		c := PatternCluster{
			Code:    code,
			Count:   len(postings),
			Field:   field,
			RuleIDs: sortedKeys(ruleIDs),
		}
		for i, r := range results {
			if i == m.cfg.MaxExamples {
				break
			}
			c.Examples = append(c.Examples, Example{PostingID: r.PostingID, Title: r.Title, OccupationCode: r.OccupationCode})
		}
		c.Proposal = m.propose(c, results)
		clusters = append(clusters, c)
	}

	sort.Slice(clusters, func(i, j int) bool {
		if clusters[i].Count != clusters[j].Count {
			return clusters[i].Count > clusters[j].Count
		}
		return clusters[i].Code < clusters[j].Code
	})
	return clusters, nil
}

// results loads the stored results of a cluster by posting id.
func (m *PatternMiner) results(ctx context.Context, postings map[string]struct{}) ([]*match.Result, error) {
	out := make([]*match.Result, 0, len(postings))
	for _, id := range sortedKeys(postings) {
		r, err := m.store.GetResult(ctx, id)
		if err != nil {
			// diagnostics may outlive their result
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *PatternMiner) propose(c PatternCluster, results []*match.Result) *Proposal {
	if len(results) == 0 {
		return nil
	}

	for _, code := range m.cfg.BusinessRuleCodes {
		if code == c.Code {
			return businessRuleProposal(results)
		}
	}
	if c.Field == "" {
		return nil
	}
	return validationRuleProposal(c, results)
}

// businessRuleProposal drafts contains predicates over title tokens shared by a
// majority of the examples, targeting their most common occupation.
func businessRuleProposal(results []*match.Result) *Proposal {
	tokenCount := make(map[string]int)
	occCount := make(map[string]int)
	for _, r := range results {
		for tok := range utils.TokenSet(r.Title, 3) {
			tokenCount[tok]++
		}
		if r.OccupationCode != "" {
			occCount[r.OccupationCode]++
		}
	}

	var tokens []string
	for tok, n := range tokenCount {
		if n*2 > len(results) {
			tokens = append(tokens, tok)
		}
	}
	sort.Strings(tokens)
	if len(tokens) == 0 {
		return nil
	}

	var cond condition.Spec
	if len(tokens) == 1 {
		cond = condition.Spec{Field: match.FieldTitle, Op: condition.OpContain, Value: tokens[0]}
	} else {
		for _, tok := range tokens {
			cond.All = append(cond.All, condition.Spec{Field: match.FieldTitle, Op: condition.OpContain, Value: tok})
		}
	}

	return &Proposal{
		Kind:             ProposalBusinessRule,
		Condition:        cond,
		OccupationCode:   mostCommon(occCount),
		SupportingTokens: tokens,
	}
}

// validationRuleProposal drafts an in_list check over the values observed on the field.
func validationRuleProposal(c PatternCluster, results []*match.Result) *Proposal {
	seen := make(map[string]struct{})
	var values []any
	nulls := 0
	for _, r := range results {
		v, _ := r.Field(c.Field)
		if v == nil {
			nulls++
			continue
		}
		key := utils.NormalizeText(toString(v))
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		values = append(values, v)
	}

	p := &Proposal{Kind: ProposalValidationRule, DiagnosticCode: c.Code}
	switch {
	case len(values) == 0:
		p.Condition = condition.Spec{Field: c.Field, Op: condition.OpIsNull}
	case nulls > 0:
		p.Condition = condition.Spec{Any: []condition.Spec{
			{Field: c.Field, Op: condition.OpIsNull},
			{Field: c.Field, Op: condition.OpInList, Values: values},
		}}
	default:
		p.Condition = condition.Spec{Field: c.Field, Op: condition.OpInList, Values: values}
	}
	return p
}

func mostCommon(counts map[string]int) string {
	best, bestN := "", 0
	for _, k := range sortedKeys(counts) {
		if counts[k] > bestN {
			best, bestN = k, counts[k]
		}
	}
	return best
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
