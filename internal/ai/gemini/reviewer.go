package gemini

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/occumatch/internal/ai"
)

//go:embed prompts/review.md
var reviewPrompt string

// Reviewer implements ai.Reviewer. Codes outside the offered options are dropped.
type Reviewer struct {
	generator contentGenerator
	logger    *zap.Logger
}

func NewReviewer(generator contentGenerator, log *zap.Logger) *Reviewer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reviewer{generator: generator, logger: log}
}

func (r *Reviewer) Classify(ctx context.Context, text string, options []ai.Candidate) ([]ai.Candidate, error) {
	if len(options) == 0 {
		return nil, fmt.Errorf("no candidate occupations to choose from")
	}

	var b strings.Builder
	b.WriteString("Posting:\n")
	b.WriteString(strings.TrimSpace(text))
	b.WriteString("\n\nCandidates:\n")
	labels := make(map[string]string, len(options))
	for _, opt := range options {
		labels[opt.Code] = opt.Label
		fmt.Fprintf(&b, "- %s: %s (automatic score %.2f)\n", opt.Code, opt.Label, opt.Score)
	}

	raw, err := r.generator.GenerateContent(ctx, reviewPrompt, b.String())
	if err != nil {
		return nil, err
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(extractJSON(raw)), &data); err != nil {
		return nil, fmt.Errorf("parse gemini review: %w", err)
	}
	list, _ := data["candidates"].([]any)

	out := make([]ai.Candidate, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		code := coerceString(entry["code"])
		label, known := labels[code]
		if !known {
			r.logger.Debug("dropping unknown code from review", zap.String("code", code))
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}

		score := coerceFloat(entry["score"])
		if math.IsNaN(score) {
			score = 0
		}
		out = append(out, ai.Candidate{
			Code:   code,
			Label:  label,
			Score:  math.Max(0, math.Min(1, score)),
			Reason: coerceString(entry["reason"]),
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}
