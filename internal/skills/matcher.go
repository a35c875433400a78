package skills

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/occumatch/internal/ai"
	"github.com/spigell/occumatch/internal/embedding"
	"github.com/spigell/occumatch/internal/logger"
	"github.com/spigell/occumatch/internal/match"
	"github.com/spigell/occumatch/internal/taxonomy"
	"github.com/spigell/occumatch/internal/utils"
)

type Config struct {
	MinSimilarity float64 `mapstructure:"min-similarity"`
	TopK          int     `mapstructure:"top-k"`
}

// Matcher reconciles the rule-derived and the semantic skill lists.
type Matcher struct {
	table    *Table
	taxonomy *taxonomy.Store
	embedder ai.Embedder
	index    *embedding.Index
	cfg      Config
	timeout  time.Duration
	logger   *zap.Logger
}

func NewMatcher(table *Table, store *taxonomy.Store, embedder ai.Embedder, index *embedding.Index, cfg Config, timeout time.Duration, log *zap.Logger) *Matcher {
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	return &Matcher{
		table:    table,
		taxonomy: store,
		embedder: embedder,
		index:    index,
		cfg:      cfg,
		timeout:  timeout,
		logger:   logger.WithFields(log, zap.String(logger.FieldStage, "skills")),
	}
}

// Match returns the merged skill list sorted by code. The rule-derived part is
// always returned; a non-nil error means the semantic part could not be computed.
func (m *Matcher) Match(ctx context.Context, declared []string, occupation string, forced []string) ([]match.Skill, error) {
	declared = dedupe(declared)

	ruleSkills := m.ruleSkills(declared, forced)
	semantic, err := m.semanticSkills(ctx, declared)
	if err != nil {
		m.logger.Warn("semantic skill lookup failed, keeping rule-derived skills", zap.Error(err))
	}

	merged := make(map[string]*match.Skill, len(ruleSkills)+len(semantic))
	for code, declaredText := range ruleSkills {
		merged[code] = &match.Skill{Code: code, Source: match.SourceRule, Declared: declaredText}
	}
	for code, hit := range semantic {
		score := hit.score
		if s, ok := merged[code]; ok {
			s.DualAgree = true
			s.Similarity = &score
			continue
		}
		merged[code] = &match.Skill{Code: code, Source: match.SourceSemantic, Similarity: &score, Declared: hit.declared}
	}

	out := make([]match.Skill, 0, len(merged))
	for _, s := range merged {
		s.Label = m.taxonomy.Label(s.Code)
		switch m.taxonomy.Relation(occupation, s.Code) {
		case taxonomy.RelationEssential:
			s.IsEssential = true
		case taxonomy.RelationOptional:
			s.IsOptional = true
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, err
}

// ruleSkills maps codes to the declared text that produced them.
func (m *Matcher) ruleSkills(declared []string, forced []string) map[string]string {
	out := make(map[string]string)
	for _, text := range declared {
		codes := m.table.Lookup(text)
		if len(codes) == 0 {
			codes = m.taxonomy.LookupLabel(taxonomy.KindSkill, text)
		}
		for _, code := range codes {
			if _, ok := out[code]; !ok {
				out[code] = text
			}
		}
	}
	for _, code := range forced {
		if _, ok := out[code]; !ok {
			out[code] = ""
		}
	}
	return out
}

type semanticHit struct {
	score    float64
	declared string
}

func (m *Matcher) semanticSkills(ctx context.Context, declared []string) (map[string]semanticHit, error) {
	out := make(map[string]semanticHit)
	if len(declared) == 0 || m.embedder == nil || m.index.Len() == 0 {
		return out, nil
	}

	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	vectors, err := m.embedder.Embed(ctx, declared)
	if err != nil {
		return out, fmt.Errorf("embed declared skills: %w", err)
	}
	if len(vectors) != len(declared) {
		return out, fmt.Errorf("embedder returned %d vectors for %d skills", len(vectors), len(declared))
	}

	for i, vec := range vectors {
		hits, err := m.index.Search(vec, m.cfg.TopK, m.cfg.MinSimilarity)
		if err != nil {
			return map[string]semanticHit{}, err
		}
		for _, h := range hits {
			if prev, ok := out[h.Code]; ok && prev.score >= h.Score {
				continue
			}
			out[h.Code] = semanticHit{score: h.Score, declared: declared[i]}
		}
	}
	return out, nil
}

func dedupe(declared []string) []string {
	seen := make(map[string]struct{}, len(declared))
	out := make([]string, 0, len(declared))
	for _, d := range declared {
		d = strings.TrimSpace(d)
		key := utils.NormalizeText(d)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, d)
	}
	return out
}
