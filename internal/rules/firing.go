package rules

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"
)

// Firing is one event of the append-only rule usage log.
type Firing struct {
	ID                 string    `json:"id"`
	PostingID          string    `json:"posting_id"`
	RuleID             string    `json:"rule_id"`
	ForcedCode         string    `json:"forced_code"`
	SemanticCode       string    `json:"semantic_code,omitempty"`
	SemanticScore      float64   `json:"semantic_score"`
	AgreesWithSemantic bool      `json:"agrees_with_semantic"`
	FiredAt            time.Time `json:"fired_at"`
}

// NewFiring builds a firing whose id only depends on its content, so recording
// the same outcome twice is a no-op for stores that ignore duplicate ids.
func NewFiring(postingID string, rule *BusinessRule, semanticCode string, semanticScore float64, at time.Time) Firing {
	f := Firing{
		PostingID:          postingID,
		RuleID:             rule.ID,
		ForcedCode:         rule.Action.OccupationCode,
		SemanticCode:       semanticCode,
		SemanticScore:      semanticScore,
		AgreesWithSemantic: semanticCode != "" && semanticCode == rule.Action.OccupationCode,
		FiredAt:            at.UTC(),
	}

	h := sha1.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%.6f", f.PostingID, f.RuleID, f.ForcedCode, f.SemanticCode, f.SemanticScore)
	f.ID = hex.EncodeToString(h.Sum(nil))
	return f
}
