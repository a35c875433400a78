package match

import (
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/spigell/occumatch/internal/decision"
	"github.com/spigell/occumatch/internal/retrieval"
)

func sample() *Result {
	score := 0.82
	return &Result{
		PostingID:       "p1",
		Title:           "Python developer",
		OccupationCode:  "occ-dev",
		OccupationLabel: "Software developer",
		SimilarityScore: 0.71,
		RerankScore:     &score,
		DecisionMethod:  decision.MethodSemantic,
		Confidence:      0.82,
		Candidates:      []retrieval.Candidate{{Code: "occ-dev", Label: "Software developer", Similarity: 0.71, RerankScore: &score}},
		Skills: []Skill{
			{Code: "sk-python", IsEssential: true, Source: SourceRule, DualAgree: true},
			{Code: "sk-sql", IsOptional: true, Source: SourceSemantic},
		},
		Attributes: map[string]any{"requires_license": "N/D", "salary": 1200.0},
		State:      StateMatchedSemantic,
	}
}

func TestFieldView(t *testing.T) {
	r := sample()

	checks := map[string]any{
		FieldOccupationCode:      "occ-dev",
		FieldGroupCode:           nil,
		FieldSkillCount:          2,
		FieldEssentialSkillCount: 1,
		FieldCandidateCount:      1,
		FieldState:               "matched_semantic",
		"requires_license":       "N/D",
	}
	for name, want := range checks {
		got, ok := r.Field(name)
		if !ok {
			t.Fatalf("%s: expected field to exist", name)
		}
		if !cmp.Equal(want, got) {
			t.Fatalf("%s: expected %v, got %v", name, want, got)
		}
	}

	if _, ok := r.Field("unknown"); ok {
		t.Fatalf("expected unknown field to be missing")
	}
}

func TestEncodeIsStable(t *testing.T) {
	a, err := sample().Encode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := sample().Encode()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("expected identical encodings")
	}

	clone := sample().Clone()
	c, _ := clone.Encode()
	if !bytes.Equal(a, c) {
		t.Fatalf("expected clone to encode identically:\n%s\n%s", a, c)
	}

	clone.Attributes["requires_license"] = nil
	if sample().Attributes["requires_license"] != "N/D" {
		t.Fatalf("expected clone to be independent")
	}
}

func TestStateFor(t *testing.T) {
	if StateFor(decision.MethodOverride) != StateOverride || StateFor(decision.MethodNoMatch) != StateNoMatch {
		t.Fatalf("unexpected state mapping")
	}
	if !StateValidated.IsTerminal() || !StateRejected.IsTerminal() || StateEscalated.IsTerminal() {
		t.Fatalf("unexpected terminal states")
	}
}
