package match

import (
	"bytes"
	"encoding/json"

	"github.com/spigell/occumatch/internal/decision"
	"github.com/spigell/occumatch/internal/retrieval"
)

type State string

const (
	StateUnmatched       State = "unmatched"
	StateMatchedSemantic State = "matched_semantic"
	StateMatchedRule     State = "matched_rule"
	StateOverride        State = "override"
	StateFlagForReview   State = "flag_for_review"
	StateNoMatch         State = "no_match"
	StateCorrected       State = "corrected"
	StateEscalated       State = "escalated"
	StateValidated       State = "validated"
	StateRejected        State = "rejected"
)

// IsTerminal reports states that only a human or reviewer may set.
func (s State) IsTerminal() bool {
	return s == StateValidated || s == StateRejected
}

// StateFor maps a decision method to the lifecycle state it produces.
func StateFor(m decision.Method) State {
	switch m {
	case decision.MethodSemantic:
		return StateMatchedSemantic
	case decision.MethodRule:
		return StateMatchedRule
	case decision.MethodOverride:
		return StateOverride
	case decision.MethodFlagForReview:
		return StateFlagForReview
	default:
		return StateNoMatch
	}
}

type SkillSource string

const (
	SourceRule     SkillSource = "rule"
	SourceSemantic SkillSource = "semantic"
)

// Skill is a taxonomy skill attached to a result.
type Skill struct {
	Code        string      `json:"code"`
	Label       string      `json:"label"`
	IsEssential bool        `json:"is_essential"`
	IsOptional  bool        `json:"is_optional"`
	Source      SkillSource `json:"source"`
	DualAgree   bool        `json:"dual_agree"`
	Similarity  *float64    `json:"similarity"`
	// Declared is the declared posting skill that produced the match, if any.
	Declared string `json:"declared,omitempty"`
}

// Result is the persisted outcome for one posting. It holds no wall-clock
// data, so an unchanged posting encodes to the same bytes on every run.
type Result struct {
	PostingID          string                `json:"posting_id"`
	Title              string                `json:"title"`
	OccupationCode     string                `json:"occupation_code"`
	OccupationLabel    string                `json:"occupation_label"`
	GroupCode          string                `json:"group_code"`
	SimilarityScore    float64               `json:"similarity_score"`
	RerankScore        *float64              `json:"rerank_score"`
	RuleScore          *float64              `json:"rule_score"`
	RuleID             string                `json:"rule_id,omitempty"`
	RuleOccupationCode string                `json:"rule_occupation_code,omitempty"`
	DecisionMethod     decision.Method       `json:"decision_method"`
	Confidence         float64               `json:"confidence"`
	Candidates         []retrieval.Candidate `json:"candidates"`
	Skills             []Skill               `json:"skills"`
	Attributes         map[string]any        `json:"attributes,omitempty"`
	State              State                 `json:"state"`
	Degraded           []string              `json:"degraded,omitempty"`
	AppliedCorrections []string              `json:"applied_corrections,omitempty"`
	Revision           int                   `json:"revision"`
}

// Encode is the canonical JSON form used for storage and comparisons.
func (r *Result) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(r); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func Decode(data []byte) (*Result, error) {
	var r Result
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Clone returns a deep copy through the canonical encoding.
func (r *Result) Clone() *Result {
	data, err := r.Encode()
	if err != nil {
		panic(err)
	}
	out, err := Decode(data)
	if err != nil {
		panic(err)
	}
	return out
}

// HasCorrection reports whether a correction id was already applied.
func (r *Result) HasCorrection(id string) bool {
	for _, applied := range r.AppliedCorrections {
		if applied == id {
			return true
		}
	}
	return false
}
