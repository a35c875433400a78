package gemini

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/spigell/occumatch/internal/utils"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, system, message string) (string, error)
}

//go:embed prompts/rerank.md
var rerankPrompt string

const defaultMaxLogLength = 200

// Scorer uses the generator as a cross-encoder: one prompt scores every document.
type Scorer struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

func NewScorer(generator contentGenerator, log *zap.Logger, maxLogLength int) *Scorer {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scorer{generator: generator, logger: log, maxLogLen: maxLogLength}
}

func (s *Scorer) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	if len(docs) == 0 {
		return []float64{}, nil
	}

	message := buildRerankMessage(query, docs)
	s.logger.Debug("gemini rerank request",
		zap.Int("documents", len(docs)),
		zap.Int("prompt_length", utf8.RuneCountInString(message)),
		zap.String("prompt_preview", utils.TruncateForLog(message, s.maxLogLen)),
	)

	raw, err := s.generator.GenerateContent(ctx, rerankPrompt, message)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("gemini rerank response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, s.maxLogLen)),
	)

	return parseScores(raw, len(docs))
}

func buildRerankMessage(query string, docs []string) string {
	var b strings.Builder
	b.WriteString("Posting:\n")
	b.WriteString(strings.TrimSpace(query))
	b.WriteString("\n\nOccupations:\n")
	for i, doc := range docs {
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.TrimSpace(doc))
	}
	return b.String()
}

func parseScores(raw string, want int) ([]float64, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse gemini scores: %w", err)
	}

	list, ok := data["scores"].([]any)
	if !ok {
		return nil, errors.New("gemini response has no scores array")
	}
	if len(list) != want {
		return nil, fmt.Errorf("gemini returned %d scores for %d documents", len(list), want)
	}

	scores := make([]float64, len(list))
	for i, v := range list {
		score := coerceFloat(v)
		if math.IsNaN(score) {
			return nil, fmt.Errorf("score #%d is not a number: %v", i+1, v)
		}
		scores[i] = math.Max(0, math.Min(1, score))
	}
	return scores, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		if v == nil {
			return ""
		}
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}
