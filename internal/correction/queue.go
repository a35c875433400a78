package correction

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spigell/occumatch/internal/match"
	"github.com/spigell/occumatch/internal/store"
	"github.com/spigell/occumatch/internal/taxonomy"
	"github.com/spigell/occumatch/internal/validation"
)

// ReviewGroup is the part of the pending-review queue sharing a diagnostic code.
type ReviewGroup struct {
	Code  string                  `json:"code"`
	Items []validation.Diagnostic `json:"items"`
}

// PendingReview returns the escalated, unresolved diagnostics grouped by code.
// Groups are ordered by code and items by posting id.
func PendingReview(ctx context.Context, st store.Store) ([]ReviewGroup, error) {
	list, err := st.ListDiagnostics(ctx, store.DiagnosticFilter{Escalated: true})
	if err != nil {
		return nil, err
	}

	byCode := make(map[string][]validation.Diagnostic)
	for _, d := range list {
		byCode[d.Code] = append(byCode[d.Code], d)
	}

	groups := make([]ReviewGroup, 0, len(byCode))
	for code, items := range byCode {
		sort.SliceStable(items, func(i, j int) bool { return items[i].PostingID < items[j].PostingID })
		groups = append(groups, ReviewGroup{Code: code, Items: items})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Code < groups[j].Code })
	return groups, nil
}

// Review records a human or reviewer decision. The result moves to a terminal
// state and its escalated diagnostics are resolved.
func Review(ctx context.Context, st store.Store, tax *taxonomy.Store, postingID string, state match.State, occupationCode string, at time.Time) (*match.Result, error) {
	if !state.IsTerminal() {
		return nil, fmt.Errorf("review must set validated or rejected, got %q", state)
	}

	r, err := st.Update(ctx, postingID, func(r *match.Result) error {
		if occupationCode != "" && occupationCode != r.OccupationCode {
			if tax == nil || !tax.Has(occupationCode, taxonomy.KindOccupation) {
				return fmt.Errorf("unknown occupation code %q", occupationCode)
			}
			r.OccupationCode = occupationCode
			r.OccupationLabel = tax.Label(occupationCode)
			r.GroupCode = tax.GroupCode(occupationCode)
		}
		r.State = state
		return nil
	})
	if err != nil {
		return nil, err
	}

	list, err := st.ListDiagnostics(ctx, store.DiagnosticFilter{PostingID: postingID, Escalated: true})
	if err != nil {
		return r, err
	}
	for _, d := range list {
		d.Resolve(validation.ResolutionEscalated, at)
		if err := st.SaveDiagnostic(ctx, d); err != nil {
			return r, err
		}
	}
	return r, nil
}
