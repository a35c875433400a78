package match

const (
	FieldPostingID           = "posting_id"
	FieldTitle               = "title"
	FieldOccupationCode      = "occupation_code"
	FieldOccupationLabel     = "occupation_label"
	FieldGroupCode           = "group_code"
	FieldSimilarityScore     = "similarity_score"
	FieldRerankScore         = "rerank_score"
	FieldRuleScore           = "rule_score"
	FieldRuleID              = "rule_id"
	FieldRuleOccupationCode  = "rule_occupation_code"
	FieldDecisionMethod      = "decision_method"
	FieldConfidence          = "confidence"
	FieldState               = "state"
	FieldSkillCount          = "skill_count"
	FieldEssentialSkillCount = "essential_skill_count"
	FieldCandidateCount      = "candidate_count"
)

// Field exposes the result, and then its attributes, to condition evaluation.
func (r *Result) Field(name string) (any, bool) {
	switch name {
	case FieldPostingID:
		return r.PostingID, true
	case FieldTitle:
		return r.Title, true
	case FieldOccupationCode:
		return nullable(r.OccupationCode), true
	case FieldOccupationLabel:
		return nullable(r.OccupationLabel), true
	case FieldGroupCode:
		return nullable(r.GroupCode), true
	case FieldSimilarityScore:
		return r.SimilarityScore, true
	case FieldRerankScore:
		return r.RerankScore, true
	case FieldRuleScore:
		return r.RuleScore, true
	case FieldRuleID:
		return nullable(r.RuleID), true
	case FieldRuleOccupationCode:
		return nullable(r.RuleOccupationCode), true
	case FieldDecisionMethod:
		return string(r.DecisionMethod), true
	case FieldConfidence:
		return r.Confidence, true
	case FieldState:
		return string(r.State), true
	case FieldSkillCount:
		return len(r.Skills), true
	case FieldEssentialSkillCount:
		n := 0
		for _, s := range r.Skills {
			if s.IsEssential {
				n++
			}
		}
		return n, true
	case FieldCandidateCount:
		return len(r.Candidates), true
	}

	v, ok := r.Attributes[name]
	return v, ok
}

// IsBuiltin reports whether name is one of the computed result fields.
func IsBuiltin(name string) bool {
	switch name {
	case FieldPostingID, FieldTitle, FieldOccupationCode, FieldOccupationLabel, FieldGroupCode,
		FieldSimilarityScore, FieldRerankScore, FieldRuleScore, FieldRuleID, FieldRuleOccupationCode,
		FieldDecisionMethod, FieldConfidence, FieldState, FieldSkillCount, FieldEssentialSkillCount,
		FieldCandidateCount:
		return true
	}
	return false
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
