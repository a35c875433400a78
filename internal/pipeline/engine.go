package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/occumatch/internal/decision"
	"github.com/spigell/occumatch/internal/logger"
	"github.com/spigell/occumatch/internal/match"
	"github.com/spigell/occumatch/internal/posting"
	"github.com/spigell/occumatch/internal/retrieval"
	"github.com/spigell/occumatch/internal/rules"
	"github.com/spigell/occumatch/internal/skills"
	"github.com/spigell/occumatch/internal/store"
	"github.com/spigell/occumatch/internal/taxonomy"
	"github.com/spigell/occumatch/internal/validation"
)

const (
	DegradedSemantic = "semantic"
	DegradedRerank   = "rerank"
	DegradedSkills   = "skills"
)

// Components are the collaborators of the matching engine. Reranker and
// Skills are optional.
type Components struct {
	Retriever *retrieval.Retriever
	Reranker  *retrieval.Reranker
	Rules     *rules.Engine
	Policy    *decision.Policy
	Skills    *skills.Matcher
	Taxonomy  *taxonomy.Store
	Store     store.Store
	// Postings backs Reprocess.
	Postings *posting.Records
}

// Engine runs one posting through retrieval, rerank, business rules, the
// decision policy and skill matching, and persists the result.
type Engine struct {
	c      Components
	now    func() time.Time
	logger *zap.Logger

	mu       sync.RWMutex
	postings map[string]*posting.Record
}

func New(c Components, log *zap.Logger) (*Engine, error) {
	switch {
	case c.Retriever == nil:
		return nil, errors.New("retriever is required")
	case c.Rules == nil:
		return nil, errors.New("rule engine is required")
	case c.Policy == nil:
		return nil, errors.New("decision policy is required")
	case c.Taxonomy == nil:
		return nil, errors.New("taxonomy is required")
	case c.Store == nil:
		return nil, errors.New("store is required")
	}

	e := &Engine{
		c:        c,
		now:      time.Now,
		logger:   logger.WithFields(log, zap.String(logger.FieldStage, "pipeline")),
		postings: make(map[string]*posting.Record),
	}
	if c.Postings != nil {
		for _, rec := range c.Postings.Items {
			e.postings[rec.ID] = rec
		}
	}
	return e, nil
}

// Process matches one posting. A posting whose stored result is terminal is
// left untouched and store.ErrTerminal is returned.
func (e *Engine) Process(ctx context.Context, rec *posting.Record) (*match.Result, error) {
	log := logger.WithPosting(e.logger, rec.ID, "")

	existing, err := e.c.Store.GetResult(ctx, rec.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		existing = nil
	case err != nil:
		return nil, fmt.Errorf("load result: %w", err)
	case existing.State.IsTerminal():
		return existing, store.ErrTerminal
	}

	e.remember(rec)
	text := rec.Text()

	var (
		candidates []retrieval.Candidate
		rule       *rules.BusinessRule
		degraded   []string
	)

	// the rule path does not depend on the semantic path
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		found, err := e.c.Retriever.Retrieve(gctx, text)
		if err != nil {
			log.Warn("semantic path unavailable", zap.Error(err))
			degraded = append(degraded, DegradedSemantic)
			return nil
		}
		if e.c.Reranker != nil && len(found) > 0 {
			found = e.c.Reranker.Rerank(gctx, text, found)
			if found[0].RerankScore == nil {
				degraded = append(degraded, DegradedRerank)
			}
		}
		candidates = found
		return nil
	})
	g.Go(func() error {
		rule = e.c.Rules.Evaluate(rec)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	outcome := e.c.Policy.Decide(candidates, rule)

	var forced []string
	if rule != nil && outcome.OccupationCode == rule.Action.OccupationCode {
		forced = rule.Action.SkillCodes
	}
	var matched []match.Skill
	if e.c.Skills != nil {
		matched, err = e.c.Skills.Match(ctx, rec.Skills, outcome.OccupationCode, forced)
		if err != nil {
			degraded = append(degraded, DegradedSkills)
		}
	}

	result := e.build(rec, candidates, outcome, matched, degraded)
	carryOver(existing, result)

	written, err := e.c.Store.UpsertResult(ctx, result)
	if err != nil {
		return nil, fmt.Errorf("save result: %w", err)
	}

	if rule != nil {
		if err := e.recordFiring(ctx, rec.ID, rule, outcome); err != nil {
			return nil, err
		}
	}
	if outcome.Method == decision.MethodFlagForReview {
		if err := e.raiseConflict(ctx, log, rec.ID, rule); err != nil {
			return nil, err
		}
	}

	log.Debug("posting matched",
		zap.String("method", string(outcome.Method)),
		zap.String("occupation_code", outcome.OccupationCode),
		zap.Float64("confidence", outcome.Confidence),
		zap.Bool("written", written),
	)
	return result, nil
}

func (e *Engine) build(rec *posting.Record, candidates []retrieval.Candidate, outcome decision.Outcome, matched []match.Skill, degraded []string) *match.Result {
	if candidates == nil {
		candidates = []retrieval.Candidate{}
	}
	if matched == nil {
		matched = []match.Skill{}
	}
	sort.Strings(degraded)

	r := &match.Result{
		PostingID:      rec.ID,
		Title:          rec.Title,
		OccupationCode: outcome.OccupationCode,
		DecisionMethod: outcome.Method,
		Confidence:     outcome.Confidence,
		Candidates:     candidates,
		Skills:         matched,
		Attributes:     rec.CopyAttributes(),
		State:          match.StateFor(outcome.Method),
		Degraded:       degraded,
	}
	if outcome.OccupationCode != "" {
		r.OccupationLabel = e.c.Taxonomy.Label(outcome.OccupationCode)
		r.GroupCode = e.c.Taxonomy.GroupCode(outcome.OccupationCode)
	}

	for _, c := range candidates {
		if c.Code == outcome.OccupationCode {
			r.SimilarityScore = c.Similarity
			r.RerankScore = c.RerankScore
			break
		}
	}

	if rule := outcome.Rule; rule != nil {
		r.RuleID = rule.ID
		r.RuleOccupationCode = rule.Action.OccupationCode
		r.RuleScore = rule.Action.Score
	}
	return r
}

// carryOver keeps what the corrector did to a previous version of the result,
// so reprocessing does not undo repairs.
func carryOver(prev, next *match.Result) {
	if prev == nil {
		return
	}
	if len(prev.AppliedCorrections) > 0 {
		next.Attributes = prev.Attributes
		next.AppliedCorrections = prev.AppliedCorrections
		if next.GroupCode == "" {
			next.GroupCode = prev.GroupCode
		}
	}
	switch prev.State {
	case match.StateCorrected, match.StateEscalated:
		if prev.DecisionMethod == next.DecisionMethod && prev.OccupationCode == next.OccupationCode {
			next.State = prev.State
		}
	}
}

func (e *Engine) recordFiring(ctx context.Context, postingID string, rule *rules.BusinessRule, outcome decision.Outcome) error {
	f := rules.NewFiring(postingID, rule, outcome.SemanticCode, outcome.SemanticScore, e.now())
	if err := e.c.Store.AppendFiring(ctx, f); err != nil {
		return fmt.Errorf("record firing: %w", err)
	}
	return nil
}

func (e *Engine) raiseConflict(ctx context.Context, log *zap.Logger, postingID string, rule *rules.BusinessRule) error {
	d := validation.Diagnostic{
		PostingID:        postingID,
		RuleID:           rule.ID,
		Code:             validation.CodeRuleSemanticConflict,
		Severity:         validation.SeverityWarning,
		Field:            match.FieldOccupationCode,
		ResolutionMethod: validation.ResolutionEscalated,
		DetectedAt:       e.now().UTC(),
	}
	_, appended, err := e.c.Store.AppendDiagnostic(ctx, d)
	if err != nil {
		return fmt.Errorf("raise conflict: %w", err)
	}
	if appended {
		log.Info("rule conflicts with a strong semantic match, escalated", zap.String(logger.FieldRuleID, rule.ID))
	}
	return nil
}

func (e *Engine) remember(rec *posting.Record) {
	e.mu.Lock()
	e.postings[rec.ID] = rec
	e.mu.Unlock()
}

// Reprocess runs a known posting through the engine again.
func (e *Engine) Reprocess(ctx context.Context, postingID string) error {
	e.mu.RLock()
	rec, ok := e.postings[postingID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("posting %s: %w", postingID, store.ErrNotFound)
	}
	_, err := e.Process(ctx, rec)
	return err
}

// Summary counts the outcomes of a batch.
type Summary struct {
	Processed int                     `json:"processed"`
	Skipped   int                     `json:"skipped"`
	Degraded  int                     `json:"degraded"`
	Methods   map[decision.Method]int `json:"methods"`
}

// Batch processes records with up to workers postings in flight. A limit
// above zero stops after that many postings.
func (e *Engine) Batch(ctx context.Context, records *posting.Records, workers, limit int) (Summary, error) {
	sum := Summary{Methods: make(map[decision.Method]int)}
	items := records.Items
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	if workers <= 0 {
		workers = 1
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, rec := range items {
		g.Go(func() error {
			r, err := e.Process(gctx, rec)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, store.ErrTerminal):
				sum.Skipped++
				return nil
			case err != nil:
				return fmt.Errorf("posting %s: %w", rec.ID, err)
			}
			sum.Processed++
			sum.Methods[r.DecisionMethod]++
			if len(r.Degraded) > 0 {
				sum.Degraded++
			}
			return nil
		})
	}
	err := g.Wait()

	e.logger.Info("batch finished",
		zap.Int("processed", sum.Processed),
		zap.Int("skipped", sum.Skipped),
		zap.Int("degraded", sum.Degraded),
	)
	return sum, err
}
