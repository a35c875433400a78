package correction

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"

	"github.com/spigell/occumatch/internal/condition"
	"github.com/spigell/occumatch/internal/match"
	"github.com/spigell/occumatch/internal/store"
	"github.com/spigell/occumatch/internal/taxonomy"
	"github.com/spigell/occumatch/internal/validation"
)

func testTaxonomy(t *testing.T) *taxonomy.Store {
	t.Helper()
	tax, err := taxonomy.New([]*taxonomy.Node{
		{Code: "grp-ict", Label: "ICT professionals", Kind: taxonomy.KindGroup},
		{Code: "occ-dev", Label: "Software developer", ParentCode: "grp-ict"},
		{Code: "occ-nurse", Label: "Nurse"},
	})
	if err != nil {
		t.Fatalf("taxonomy: %v", err)
	}
	return tax
}

func validator(t *testing.T, list ...*validation.Rule) *validation.Validator {
	t.Helper()
	set, err := validation.NewSet(list)
	if err != nil {
		t.Fatalf("validation set: %v", err)
	}
	return validation.NewValidator(set, nil, zap.NewNop())
}

func licenseRule() *validation.Rule {
	return &validation.Rule{
		ID:        "v-bool-license",
		Code:      "invalid_boolean_value",
		Field:     "requires_license",
		Condition: condition.Spec{Field: "requires_license", Op: condition.OpInList, Values: []any{"N/D"}},
		Correction: &validation.CorrectionAction{
			Type:      validation.ActionAutoCorrect,
			Transform: validation.TransformSetNull,
		},
	}
}

func seed(t *testing.T, st store.Store, r *match.Result) {
	t.Helper()
	if _, err := st.UpsertResult(context.Background(), r); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestAutoCorrectSetsNullAndIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st, &match.Result{
		PostingID:      "p-1",
		OccupationCode: "occ-dev",
		State:          match.StateMatchedSemantic,
		Attributes:     map[string]any{"requires_license": "N/D", "salary": "1000"},
	})

	c := New(st, validator(t, licenseRule()), testTaxonomy(t), nil, nil, zap.NewNop())
	rep, err := c.Process(ctx, "p-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(Report{PostingID: "p-1", Detected: 1, Corrected: 1, Resolved: 1}, rep); diff != "" {
		t.Fatalf("unexpected report (-want +got):\n%s", diff)
	}

	r, _ := st.GetResult(ctx, "p-1")
	if v, ok := r.Attributes["requires_license"]; !ok || v != nil {
		t.Fatalf("expected requires_license to be null, got %v (present=%v)", v, ok)
	}
	if r.State != match.StateCorrected {
		t.Fatalf("expected corrected state, got %s", r.State)
	}
	if diff := cmp.Diff([]string{"v-bool-license/set_null/requires_license"}, r.AppliedCorrections); diff != "" {
		t.Fatalf("unexpected applied corrections (-want +got):\n%s", diff)
	}

	diags, _ := st.ListDiagnostics(ctx, store.DiagnosticFilter{PostingID: "p-1"})
	if len(diags) != 1 || !diags[0].Resolved || diags[0].ResolutionMethod != validation.ResolutionAuto {
		t.Fatalf("expected one auto-resolved diagnostic, got %+v", diags)
	}

	before, _ := r.Encode()
	rep, err = c.Process(ctx, "p-1")
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	if rep.Detected != 0 || rep.Corrected != 0 {
		t.Fatalf("second pass must be a no-op, got %+v", rep)
	}
	again, _ := st.GetResult(ctx, "p-1")
	after, _ := again.Encode()
	if string(before) != string(after) {
		t.Fatalf("second pass changed the record:\n%s\n%s", before, after)
	}
}

func TestDetectionSharingBusinessRuleID(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st, &match.Result{
		PostingID:      "p-1",
		OccupationCode: "occ-dev",
		RuleID:         "r1",
		State:          match.StateFlagForReview,
		Attributes:     map[string]any{"requires_license": "N/D"},
	})
	conflict, _, err := st.AppendDiagnostic(ctx, validation.Diagnostic{
		PostingID:        "p-1",
		RuleID:           "r1",
		Code:             validation.CodeRuleSemanticConflict,
		ResolutionMethod: validation.ResolutionEscalated,
	})
	if err != nil {
		t.Fatalf("seed conflict: %v", err)
	}

	rule := licenseRule()
	rule.ID = "r1"
	c := New(st, validator(t, rule), testTaxonomy(t), nil, nil, zap.NewNop())

	rep, err := c.Process(ctx, "p-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff(Report{PostingID: "p-1", Detected: 1, Corrected: 1, Resolved: 1}, rep); diff != "" {
		t.Fatalf("unexpected report (-want +got):\n%s", diff)
	}

	r, _ := st.GetResult(ctx, "p-1")
	if v, ok := r.Attributes["requires_license"]; !ok || v != nil {
		t.Fatalf("expected requires_license to be null, got %v", v)
	}
	if r.State != match.StateFlagForReview {
		t.Fatalf("expected flag_for_review to be kept, got %s", r.State)
	}

	diags, _ := st.ListDiagnostics(ctx, store.DiagnosticFilter{PostingID: "p-1"})
	if len(diags) != 2 {
		t.Fatalf("expected conflict and detection, got %+v", diags)
	}
	for _, d := range diags {
		switch d.Code {
		case validation.CodeRuleSemanticConflict:
			if d.ID != conflict.ID || !d.Escalated() {
				t.Fatalf("conflict diagnostic changed: %+v", d)
			}
		case "invalid_boolean_value":
			if !d.Resolved || d.ResolutionMethod != validation.ResolutionAuto {
				t.Fatalf("detection not auto-resolved: %+v", d)
			}
		default:
			t.Fatalf("unexpected diagnostic %+v", d)
		}
	}
}

func TestPendingDiagnosticWithForeignCodeEscalates(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st, &match.Result{PostingID: "p-1", OccupationCode: "occ-dev", State: match.StateMatchedRule})
	if _, _, err := st.AppendDiagnostic(ctx, validation.Diagnostic{PostingID: "p-1", RuleID: "v-bool-license", Code: "other_code"}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	c := New(st, validator(t, licenseRule()), testTaxonomy(t), nil, nil, zap.NewNop())
	rep, err := c.Process(ctx, "p-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Escalated != 1 || rep.Corrected != 0 {
		t.Fatalf("expected the foreign diagnostic to be escalated, got %+v", rep)
	}
	r, _ := st.GetResult(ctx, "p-1")
	if len(r.AppliedCorrections) != 0 || r.State != match.StateEscalated {
		t.Fatalf("unexpected result %+v", r)
	}
}

func TestEscalationAndReview(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st, &match.Result{PostingID: "p-2", State: match.StateNoMatch})
	seed(t, st, &match.Result{PostingID: "p-1", State: match.StateNoMatch})

	rule := &validation.Rule{
		ID:        "v-missing-occupation",
		Code:      "missing_occupation",
		Condition: condition.Spec{Field: "occupation_code", Op: condition.OpIsNull},
	}
	tax := testTaxonomy(t)
	c := New(st, validator(t, rule), tax, nil, nil, nil)

	reports, err := c.Run(ctx, nil, 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(reports) != 2 || reports[0].PostingID != "p-1" || reports[0].Escalated != 1 {
		t.Fatalf("unexpected reports %+v", reports)
	}

	groups, err := PendingReview(ctx, st)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if len(groups) != 1 || groups[0].Code != "missing_occupation" || len(groups[0].Items) != 2 {
		t.Fatalf("unexpected queue %+v", groups)
	}
	if groups[0].Items[0].PostingID != "p-1" {
		t.Fatalf("queue items must be ordered by posting id")
	}

	r, _ := st.GetResult(ctx, "p-1")
	if r.State != match.StateEscalated {
		t.Fatalf("expected escalated state, got %s", r.State)
	}

	// escalated diagnostics are not appended again
	if rep, _ := c.Process(ctx, "p-1"); rep.Detected != 0 || rep.Escalated != 0 {
		t.Fatalf("expected no new work, got %+v", rep)
	}

	reviewed, err := Review(ctx, st, tax, "p-1", match.StateValidated, "occ-dev", time.Now())
	if err != nil {
		t.Fatalf("review: %v", err)
	}
	if reviewed.State != match.StateValidated || reviewed.GroupCode != "grp-ict" {
		t.Fatalf("unexpected reviewed result %+v", reviewed)
	}

	groups, _ = PendingReview(ctx, st)
	if len(groups) != 1 || len(groups[0].Items) != 1 || groups[0].Items[0].PostingID != "p-2" {
		t.Fatalf("reviewed posting must leave the queue, got %+v", groups)
	}

	rep, err := c.Process(ctx, "p-1")
	if err != nil || !rep.Skipped {
		t.Fatalf("terminal result must be skipped, got %+v %v", rep, err)
	}

	if _, err := Review(ctx, st, tax, "p-2", match.StateCorrected, "", time.Now()); err == nil {
		t.Fatalf("expected non-terminal review state to be rejected")
	}
}

func TestFailedTransformAbortsRecord(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	seed(t, st, &match.Result{
		PostingID:  "p-1",
		State:      match.StateMatchedRule,
		Attributes: map[string]any{"requires_license": "N/D", "contract": "???"},
	})

	contract := &validation.Rule{
		ID:        "v-contract",
		Code:      "unknown_contract",
		Field:     "contract",
		Condition: condition.Spec{Field: "contract", Op: condition.OpEquals, Value: "???"},
		Correction: &validation.CorrectionAction{
			Type:      validation.ActionAutoCorrect,
			Transform: validation.TransformMapValue,
			Mapping:   map[string]any{"full time": "full_time"},
		},
	}
	c := New(st, validator(t, licenseRule(), contract), nil, nil, nil, zap.NewNop())

	if _, err := c.Process(ctx, "p-1"); err == nil {
		t.Fatalf("expected transform error")
	}

	r, _ := st.GetResult(ctx, "p-1")
	if r.Attributes["requires_license"] != "N/D" || r.Revision != 1 || len(r.AppliedCorrections) != 0 {
		t.Fatalf("failed pass must not change the record, got %+v", r)
	}
	open, _ := st.ListDiagnostics(ctx, store.DiagnosticFilter{PostingID: "p-1", OpenOnly: true})
	for _, d := range open {
		if !d.Pending() {
			t.Fatalf("diagnostics must stay pending, got %+v", d)
		}
	}
	if len(open) != 2 {
		t.Fatalf("expected 2 open diagnostics, got %d", len(open))
	}
}

type fixingReprocessor struct {
	st    store.Store
	code  string
	calls int
}

func (f *fixingReprocessor) Reprocess(ctx context.Context, postingID string) error {
	f.calls++
	_, err := f.st.Update(ctx, postingID, func(r *match.Result) error {
		r.OccupationCode = f.code
		r.State = match.StateMatchedRule
		return nil
	})
	return err
}

func TestReprocess(t *testing.T) {
	rule := &validation.Rule{
		ID:         "v-missing-occupation",
		Code:       "missing_occupation",
		Condition:  condition.Spec{Field: "occupation_code", Op: condition.OpIsNull},
		Correction: &validation.CorrectionAction{Type: validation.ActionReprocess, Section: "r-fix"},
	}

	tests := []struct {
		name          string
		sections      Sections
		code          string
		wantCalls     int
		wantResolved  int
		wantEscalated int
		wantState     match.State
	}{
		{name: "fixed by reprocess", sections: func(s string) bool { return s == "r-fix" }, code: "occ-dev",
			wantCalls: 1, wantResolved: 1, wantState: match.StateMatchedRule},
		{name: "still firing", sections: func(s string) bool { return s == "r-fix" }, code: "",
			wantCalls: 1, wantEscalated: 1, wantState: match.StateEscalated},
		{name: "missing section", sections: nil, code: "occ-dev",
			wantCalls: 0, wantEscalated: 1, wantState: match.StateEscalated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			st := store.NewMemory()
			seed(t, st, &match.Result{PostingID: "p-1", State: match.StateNoMatch})

			rp := &fixingReprocessor{st: st, code: tt.code}
			c := New(st, validator(t, rule), nil, tt.sections, rp, zap.NewNop())

			rep, err := c.Process(ctx, "p-1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rp.calls != tt.wantCalls || rep.Resolved != tt.wantResolved || rep.Escalated != tt.wantEscalated {
				t.Fatalf("unexpected outcome calls=%d report=%+v", rp.calls, rep)
			}

			r, _ := st.GetResult(ctx, "p-1")
			if r.State != tt.wantState {
				t.Fatalf("expected state %s, got %s", tt.wantState, r.State)
			}
			diags, _ := st.ListDiagnostics(ctx, store.DiagnosticFilter{PostingID: "p-1"})
			if len(diags) != 1 || diags[0].ReprocessRequested != (tt.wantCalls > 0) {
				t.Fatalf("unexpected diagnostics %+v", diags)
			}
		})
	}
}

func TestTransforms(t *testing.T) {
	tax := testTaxonomy(t)
	tests := []struct {
		name    string
		rule    *validation.Rule
		check   func(*match.Result) bool
		wantErr bool
	}{
		{
			name: "set value",
			rule: &validation.Rule{ID: "a", Field: "remote", Correction: &validation.CorrectionAction{Transform: validation.TransformSetValue, Value: false}},
			check: func(r *match.Result) bool {
				return r.Attributes["remote"] == false
			},
		},
		{
			name: "copy from builtin",
			rule: &validation.Rule{ID: "a", Field: "headline", Correction: &validation.CorrectionAction{Transform: validation.TransformCopyFrom, Source: "title"}},
			check: func(r *match.Result) bool {
				return r.Attributes["headline"] == "nurse"
			},
		},
		{
			name: "map value case-insensitively",
			rule: &validation.Rule{ID: "a", Field: "contract", Correction: &validation.CorrectionAction{Transform: validation.TransformMapValue, Mapping: map[string]any{"Full Time": "full_time"}}},
			check: func(r *match.Result) bool {
				return r.Attributes["contract"] == "full_time"
			},
		},
		{
			name: "derive group code",
			rule: &validation.Rule{ID: "a", Correction: &validation.CorrectionAction{Transform: validation.TransformDeriveGroupCode}},
			check: func(r *match.Result) bool {
				return r.GroupCode == "grp-ict"
			},
		},
		{
			name:    "copy from missing source",
			rule:    &validation.Rule{ID: "a", Field: "x", Correction: &validation.CorrectionAction{Transform: validation.TransformCopyFrom, Source: "nope"}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &match.Result{Title: "nurse", OccupationCode: "occ-dev", Attributes: map[string]any{"contract": "full time"}}
			err := apply(r, tt.rule, tax)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.check(r) {
				t.Fatalf("unexpected result %+v", r)
			}
		})
	}
}

func TestProcessMissingResult(t *testing.T) {
	c := New(store.NewMemory(), validator(t), nil, nil, nil, nil)
	if _, err := c.Process(context.Background(), "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// reloadingStore swaps the validation rules right before a record update.
type reloadingStore struct {
	store.Store
	beforeUpdate func()
}

func (s *reloadingStore) Update(ctx context.Context, postingID string, fn func(*match.Result) error) (*match.Result, error) {
	s.beforeUpdate()
	return s.Store.Update(ctx, postingID, fn)
}

func TestRulesReloadedDuringPassUsePlannedRule(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "validation.yaml")
	write := func(doc string) {
		if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write(`
validation_rules:
  - id: v-bool-license
    condition: {field: requires_license, op: in_list, values: ["N/D"]}
    diagnostic_code: invalid_boolean_value
    correction: {type: auto_correct, transform: set_null}
`)
	set, err := validation.Load([]string{path})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	v := validation.NewValidator(set, []string{path}, zap.NewNop())

	st := &reloadingStore{Store: store.NewMemory()}
	st.beforeUpdate = func() {
		write(`
validation_rules:
  - id: v-empty-title
    condition: {field: title, op: is_empty}
    diagnostic_code: empty_title
`)
		if err := v.Reload(); err != nil {
			t.Errorf("reload: %v", err)
		}
	}
	seed(t, st, &match.Result{
		PostingID:      "p-1",
		Title:          "nurse",
		OccupationCode: "occ-nurse",
		State:          match.StateMatchedSemantic,
		Attributes:     map[string]any{"requires_license": "N/D"},
	})

	c := New(st, v, testTaxonomy(t), nil, nil, zap.NewNop())
	rep, err := c.Process(ctx, "p-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Corrected != 1 {
		t.Fatalf("expected the planned correction to apply, got %+v", rep)
	}
	if _, ok := v.Rule("v-bool-license"); ok {
		t.Fatal("expected the license rule to be gone after reload")
	}
	r, _ := st.GetResult(ctx, "p-1")
	if diff := cmp.Diff([]string{"v-bool-license/set_null/requires_license"}, r.AppliedCorrections); diff != "" {
		t.Fatalf("unexpected applied corrections (-want +got):\n%s", diff)
	}
}
