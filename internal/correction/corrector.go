package correction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/occumatch/internal/logger"
	"github.com/spigell/occumatch/internal/match"
	"github.com/spigell/occumatch/internal/store"
	"github.com/spigell/occumatch/internal/taxonomy"
	"github.com/spigell/occumatch/internal/validation"
)

// Reprocessor re-runs the matching pipeline for a stored posting.
type Reprocessor interface {
	Reprocess(ctx context.Context, postingID string) error
}

// Sections reports whether a business rule id or configuration section exists.
type Sections func(name string) bool

// Report summarizes one pass over a posting.
type Report struct {
	PostingID   string `json:"posting_id"`
	Skipped     bool   `json:"skipped,omitempty"`
	Detected    int    `json:"detected"`
	Corrected   int    `json:"corrected"`
	Escalated   int    `json:"escalated"`
	Reprocessed bool   `json:"reprocessed,omitempty"`
	Resolved    int    `json:"resolved"`
}

type Corrector struct {
	store     store.Store
	validator *validation.Validator
	taxonomy  *taxonomy.Store
	sections  Sections
	reprocess Reprocessor
	now       func() time.Time
	logger    *zap.Logger
}

// New builds a corrector. A nil reprocessor escalates every reprocess request.
func New(st store.Store, v *validation.Validator, tax *taxonomy.Store, sections Sections, reprocess Reprocessor, log *zap.Logger) *Corrector {
	if sections == nil {
		sections = func(string) bool { return false }
	}
	return &Corrector{
		store:     st,
		validator: v,
		taxonomy:  tax,
		sections:  sections,
		reprocess: reprocess,
		now:       time.Now,
		logger:    logger.WithFields(log, zap.String(logger.FieldStage, "correct")),
	}
}

// planned pairs a diagnostic with the rule that raised it, as loaded when the
// pass was planned.
type planned struct {
	diagnostic validation.Diagnostic
	rule       *validation.Rule
}

type plan struct {
	auto      []planned
	escalate  []validation.Diagnostic
	reprocess []validation.Diagnostic
}

// Process validates one stored result and acts on its pending diagnostics.
func (c *Corrector) Process(ctx context.Context, postingID string) (Report, error) {
	rep := Report{PostingID: postingID}
	log := logger.WithPosting(c.logger, postingID, "")

	r, err := c.store.GetResult(ctx, postingID)
	if err != nil {
		return rep, err
	}
	if r.State.IsTerminal() {
		rep.Skipped = true
		return rep, nil
	}

	for _, d := range c.validator.Validate(r) {
		if _, appended, err := c.store.AppendDiagnostic(ctx, d); err != nil {
			return rep, fmt.Errorf("append diagnostic: %w", err)
		} else if appended {
			rep.Detected++
			log.Debug("diagnostic detected", zap.String(logger.FieldRuleID, d.RuleID), zap.String("code", d.Code))
		}
	}

	pending, err := c.pending(ctx, postingID)
	if err != nil {
		return rep, err
	}
	if len(pending) == 0 {
		return rep, nil
	}

	p := c.plan(pending)
	resolved, escalated, err := c.correct(ctx, postingID, p)
	if errors.Is(err, store.ErrTerminal) {
		rep.Skipped = true
		return rep, nil
	}
	if err != nil {
		return rep, err
	}
	rep.Corrected = len(resolved)

	for _, d := range resolved {
		d.Resolve(validation.ResolutionAuto, c.now())
		if err := c.store.SaveDiagnostic(ctx, d); err != nil {
			return rep, err
		}
	}
	rep.Resolved += len(resolved)
	if err := c.escalate(ctx, escalated); err != nil {
		return rep, err
	}
	rep.Escalated += len(escalated)

	if len(p.reprocess) > 0 {
		res, esc, err := c.reprocessAndRevalidate(ctx, postingID, p.reprocess)
		if err != nil {
			return rep, err
		}
		rep.Reprocessed = true
		rep.Resolved += res
		rep.Escalated += esc
	}

	log.Info("correction pass finished",
		zap.Int("detected", rep.Detected),
		zap.Int("corrected", rep.Corrected),
		zap.Int("escalated", rep.Escalated),
		zap.Bool("reprocessed", rep.Reprocessed),
	)
	return rep, nil
}

// pending returns the untouched open diagnostics of a posting, ordered by rule id.
func (c *Corrector) pending(ctx context.Context, postingID string) ([]validation.Diagnostic, error) {
	open, err := c.store.ListDiagnostics(ctx, store.DiagnosticFilter{PostingID: postingID, OpenOnly: true})
	if err != nil {
		return nil, err
	}
	out := make([]validation.Diagnostic, 0, len(open))
	for _, d := range open {
		if d.Pending() {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out, nil
}

func (c *Corrector) plan(pending []validation.Diagnostic) plan {
	var p plan
	for _, d := range pending {
		rule, ok := c.validator.Rule(d.RuleID)
		if !ok || rule.Code != d.Code {
			// raised by something other than this validation rule
			p.escalate = append(p.escalate, d)
			continue
		}

		switch rule.Action() {
		case validation.ActionAutoCorrect:
			p.auto = append(p.auto, planned{diagnostic: d, rule: rule})
		case validation.ActionReprocess:
			if c.reprocess != nil && c.sections(rule.Correction.Section) {
				p.reprocess = append(p.reprocess, d)
				continue
			}
			c.logger.Warn("reprocess section not available, escalating",
				zap.String(logger.FieldRuleID, rule.ID),
				zap.String("section", rule.Correction.Section))
			p.escalate = append(p.escalate, d)
		default:
			p.escalate = append(p.escalate, d)
		}
	}
	return p
}

// correct applies every auto transform and the resulting state in one store
// update. It returns the diagnostics resolved by a transform and the full
// escalation list.
func (c *Corrector) correct(ctx context.Context, postingID string, p plan) ([]validation.Diagnostic, []validation.Diagnostic, error) {
	escalated := append([]validation.Diagnostic(nil), p.escalate...)
	if len(p.auto) == 0 && len(escalated) == 0 {
		return nil, nil, nil
	}

	var resolved []validation.Diagnostic
	_, err := c.store.Update(ctx, postingID, func(r *match.Result) error {
		resolved = resolved[:0]
		escalated = append(escalated[:0], p.escalate...)
		applied := 0

		for _, pa := range p.auto {
			d, rule := pa.diagnostic, pa.rule
			id := correctionID(rule)
			if r.HasCorrection(id) {
				// applied before; only a condition that still holds needs a human
				if rule.Matches(r) {
					escalated = append(escalated, d)
				} else {
					resolved = append(resolved, d)
				}
				continue
			}
			if err := apply(r, rule, c.taxonomy); err != nil {
				return fmt.Errorf("rule %s: %w", rule.ID, err)
			}
			r.AppliedCorrections = append(r.AppliedCorrections, id)
			resolved = append(resolved, d)
			applied++
		}

		switch {
		case len(escalated) > 0:
			r.State = match.StateEscalated
		case applied > 0 && r.State != match.StateEscalated && r.State != match.StateFlagForReview:
			// a result already waiting for review keeps its state
			r.State = match.StateCorrected
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return resolved, escalated, nil
}

func (c *Corrector) escalate(ctx context.Context, list []validation.Diagnostic) error {
	for _, d := range list {
		d.Escalate()
		if err := c.store.SaveDiagnostic(ctx, d); err != nil {
			return err
		}
		c.logger.Info("diagnostic escalated",
			append(logger.RuleFields(d.PostingID, d.RuleID), zap.String("code", d.Code))...)
	}
	return nil
}

func (c *Corrector) reprocessAndRevalidate(ctx context.Context, postingID string, list []validation.Diagnostic) (int, int, error) {
	for i := range list {
		list[i].ReprocessRequested = true
		if err := c.store.SaveDiagnostic(ctx, list[i]); err != nil {
			return 0, 0, err
		}
	}

	if err := c.reprocess.Reprocess(ctx, postingID); err != nil {
		if errors.Is(err, store.ErrTerminal) {
			return 0, 0, nil
		}
		c.logger.Warn("reprocess failed, escalating", zap.String(logger.FieldPostingID, postingID), zap.Error(err))
		return 0, len(list), c.escalateAll(ctx, postingID, list)
	}

	r, err := c.store.GetResult(ctx, postingID)
	if err != nil {
		return 0, 0, err
	}
	firing := make(map[string]bool)
	for _, d := range c.validator.Validate(r) {
		firing[d.RuleID+"/"+d.Code] = true
	}

	var still []validation.Diagnostic
	resolved := 0
	for _, d := range list {
		if firing[d.RuleID+"/"+d.Code] {
			still = append(still, d)
			continue
		}
		d.Resolve(validation.ResolutionAuto, c.now())
		if err := c.store.SaveDiagnostic(ctx, d); err != nil {
			return resolved, 0, err
		}
		resolved++
	}
	if len(still) == 0 {
		return resolved, 0, nil
	}
	return resolved, len(still), c.escalateAll(ctx, postingID, still)
}

// escalateAll escalates list and moves the result to the escalated state.
func (c *Corrector) escalateAll(ctx context.Context, postingID string, list []validation.Diagnostic) error {
	_, err := c.store.Update(ctx, postingID, func(r *match.Result) error {
		r.State = match.StateEscalated
		return nil
	})
	if err != nil && !errors.Is(err, store.ErrTerminal) {
		return err
	}
	return c.escalate(ctx, list)
}

// Run processes ids, or every stored result when ids is empty, with up to
// workers postings in flight. A limit above zero stops after that many postings.
func (c *Corrector) Run(ctx context.Context, ids []string, workers, limit int) ([]Report, error) {
	if len(ids) == 0 {
		results, err := c.store.ListResults(ctx)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			ids = append(ids, r.PostingID)
		}
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	if workers <= 0 {
		workers = 1
	}

	reports := make([]Report, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, id := range ids {
		g.Go(func() error {
			rep, err := c.Process(ctx, id)
			if err != nil {
				return fmt.Errorf("posting %s: %w", id, err)
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, nil
}
