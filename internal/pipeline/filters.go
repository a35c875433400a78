package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/occumatch/internal/posting"
	"github.com/spigell/occumatch/internal/store"
)

type excludeFileFilter struct {
	path string
}

// NewExcludeFile creates a filter that removes postings listed in an exclude file.
func NewExcludeFile() Filter {
	return &excludeFileFilter{}
}

func (f *excludeFileFilter) Name() string { return "exclude_file" }

func (f *excludeFileFilter) Disable(string) {}

func (f *excludeFileFilter) IsEnabled() bool { return true }

func (f *excludeFileFilter) Validate(cfg *FilterConfig) error {
	f.path = ""
	if cfg != nil {
		f.path = strings.TrimSpace(cfg.ExcludeFile)
	}
	return nil
}

func (f *excludeFileFilter) Apply(_ context.Context, deps Deps, p *posting.Records) (*posting.Records, Step, error) {
	initial := p.Len()
	if f.path == "" {
		return p, Step{Initial: initial, Dropped: 0, Left: p.Len()}, nil
	}

	ids, err := posting.LoadIDs(f.path)
	if err != nil {
		return p, Step{}, fmt.Errorf("getting excluded postings from file: %w", err)
	}

	removed := p.Exclude(ids)
	if deps.Logger != nil && len(removed) > 0 {
		deps.Logger.Info("excluding postings based on exclude file",
			zap.String("path", f.path),
			zap.Strings("excluded_postings", removed),
			zap.Int("postings_left", p.Len()),
		)
	}

	return p, Step{Initial: initial, Dropped: len(removed), Left: p.Len()}, nil
}

func (f *excludeFileFilter) Status() Status {
	details := map[string]string{}
	if f.path != "" {
		details["path"] = f.path
	}
	return Status{Name: f.Name(), Enabled: true, Details: details}
}

type terminalFilter struct {
	disabled bool
	reason   string
}

// NewTerminal creates a filter that removes postings already validated or rejected by a reviewer.
func NewTerminal() Filter {
	return &terminalFilter{}
}

func (f *terminalFilter) Name() string { return "terminal_results" }

func (f *terminalFilter) Disable(reason string) {
	f.disabled = true
	f.reason = reason
}

func (f *terminalFilter) IsEnabled() bool { return !f.disabled }

func (f *terminalFilter) Validate(*FilterConfig) error { return nil }

func (f *terminalFilter) Apply(ctx context.Context, deps Deps, p *posting.Records) (*posting.Records, Step, error) {
	initial := p.Len()
	if deps.Store == nil {
		return p, Step{}, errors.New("store is required")
	}

	var terminal []string
	for _, rec := range p.Items {
		r, err := deps.Store.GetResult(ctx, rec.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return p, Step{}, fmt.Errorf("get result %s: %w", rec.ID, err)
		}
		if r.State.IsTerminal() {
			terminal = append(terminal, rec.ID)
		}
	}

	removed := p.Exclude(terminal)
	if deps.Logger != nil && len(removed) > 0 {
		deps.Logger.Info("excluding postings with reviewed results",
			zap.Strings("excluded_postings", removed),
			zap.Int("postings_left", p.Len()),
		)
	}

	return p, Step{Initial: initial, Dropped: len(removed), Left: p.Len()}, nil
}

func (f *terminalFilter) Status() Status {
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason}
}

type limitFilter struct {
	limit int
}

// NewLimit creates a filter that keeps at most the configured number of postings.
func NewLimit() Filter {
	return &limitFilter{}
}

func (f *limitFilter) Name() string { return "limit" }

func (f *limitFilter) Disable(string) {}

func (f *limitFilter) IsEnabled() bool { return true }

func (f *limitFilter) Validate(cfg *FilterConfig) error {
	f.limit = 0
	if cfg != nil {
		if cfg.Limit < 0 {
			return fmt.Errorf("limit must not be negative, got %d", cfg.Limit)
		}
		f.limit = cfg.Limit
	}
	return nil
}

func (f *limitFilter) Apply(_ context.Context, _ Deps, p *posting.Records) (*posting.Records, Step, error) {
	initial := p.Len()
	if f.limit == 0 || initial <= f.limit {
		return p, Step{Initial: initial, Dropped: 0, Left: initial}, nil
	}

	p.Items = p.Items[:f.limit]
	return p, Step{Initial: initial, Dropped: initial - f.limit, Left: p.Len()}, nil
}

func (f *limitFilter) Status() Status {
	details := map[string]string{}
	if f.limit > 0 {
		details["limit"] = strconv.Itoa(f.limit)
	}
	return Status{Name: f.Name(), Enabled: true, Details: details}
}
