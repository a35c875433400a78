package store

import (
	"context"
	"errors"
	"sort"

	"github.com/spigell/occumatch/internal/match"
	"github.com/spigell/occumatch/internal/rules"
	"github.com/spigell/occumatch/internal/validation"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrTerminal is returned when automation tries to overwrite a validated or rejected result.
	ErrTerminal = errors.New("result is in a terminal state")
)

// DiagnosticFilter narrows ListDiagnostics. Zero values match everything.
type DiagnosticFilter struct {
	PostingID string
	RuleID    string
	OpenOnly  bool
	// Escalated keeps only diagnostics waiting in the review queue.
	Escalated bool
}

func (f DiagnosticFilter) match(d validation.Diagnostic) bool {
	if f.PostingID != "" && d.PostingID != f.PostingID {
		return false
	}
	if f.RuleID != "" && d.RuleID != f.RuleID {
		return false
	}
	if f.OpenOnly && !d.Open() {
		return false
	}
	if f.Escalated && !d.Escalated() {
		return false
	}
	return true
}

// sameDetection reports whether a and b describe the same detection. Business
// and validation rule ids live in separate documents, so the code is part of
// the key.
func sameDetection(a, b validation.Diagnostic) bool {
	return a.PostingID == b.PostingID && a.RuleID == b.RuleID && a.Code == b.Code
}

// Store persists match results, the diagnostic log and the rule firing log.
//
// Result writes are serialized per posting id. A write whose canonical
// encoding equals the stored one is a no-op and keeps the revision.
type Store interface {
	GetResult(ctx context.Context, postingID string) (*match.Result, error)
	// UpsertResult refuses to replace a result in a terminal state.
	UpsertResult(ctx context.Context, r *match.Result) (bool, error)
	// Update runs fn on a copy of the stored result and saves it if fn succeeds.
	// fn may set a terminal state; a result already terminal yields ErrTerminal.
	Update(ctx context.Context, postingID string, fn func(*match.Result) error) (*match.Result, error)
	ListResults(ctx context.Context) ([]*match.Result, error)

	// AppendDiagnostic appends d unless an open diagnostic with the same posting,
	// rule and code exists, in which case that one is returned with false.
	AppendDiagnostic(ctx context.Context, d validation.Diagnostic) (validation.Diagnostic, bool, error)
	SaveDiagnostic(ctx context.Context, d validation.Diagnostic) error
	ListDiagnostics(ctx context.Context, f DiagnosticFilter) ([]validation.Diagnostic, error)

	// AppendFiring ignores firings whose id is already recorded.
	AppendFiring(ctx context.Context, f rules.Firing) error
	ListFirings(ctx context.Context, ruleID string) ([]rules.Firing, error)

	Close() error
}

// prepare sets the revision of next relative to prev and reports whether next
// has to be written.
func prepare(prev, next *match.Result) (bool, error) {
	if prev == nil {
		next.Revision = 1
		return true, nil
	}

	next.Revision = prev.Revision
	a, err := prev.Encode()
	if err != nil {
		return false, err
	}
	b, err := next.Encode()
	if err != nil {
		return false, err
	}
	if string(a) == string(b) {
		return false, nil
	}
	next.Revision = prev.Revision + 1
	return true, nil
}

func sortDiagnostics(list []validation.Diagnostic) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].DetectedAt.Equal(list[j].DetectedAt) {
			return list[i].DetectedAt.Before(list[j].DetectedAt)
		}
		return list[i].ID < list[j].ID
	})
}

func sortFirings(list []rules.Firing) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].FiredAt.Equal(list[j].FiredAt) {
			return list[i].FiredAt.Before(list[j].FiredAt)
		}
		return list[i].ID < list[j].ID
	})
}
