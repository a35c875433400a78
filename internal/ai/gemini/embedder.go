package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/spigell/occumatch/internal/logger"
)

const (
	maxEmbedBatch   = 100
	defaultTaskType = "SEMANTIC_SIMILARITY"
)

type embedModels interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Embedder implements ai.Embedder with the Gemini embedding endpoint.
type Embedder struct {
	models     embedModels
	model      string
	taskType   string
	maxRetries int
	limiter    *rate.Limiter
	logger     *zap.Logger
}

func NewEmbedder(client *genai.Client, cfg Config, limiter *rate.Limiter, log *zap.Logger) *Embedder {
	model := strings.TrimSpace(cfg.EmbeddingModel)
	if model == "" {
		model = defaultEmbeddingModel
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}

	return &Embedder{
		models:     client.Models,
		model:      model,
		taskType:   defaultTaskType,
		maxRetries: retries,
		limiter:    limiter,
		logger:     logger.WithCommonFields(log, Provider, model),
	}
}

func (e *Embedder) Model() string {
	return e.model
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e == nil || e.models == nil {
		return nil, errors.New("gemini embedder is not initialized")
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxEmbedBatch {
		end := min(start+maxEmbedBatch, len(texts))

		contents := make([]*genai.Content, 0, end-start)
		for _, text := range texts[start:end] {
			contents = append(contents, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: text}},
			})
		}

		var resp *genai.EmbedContentResponse
		err := withRetry(ctx, e.logger, e.maxRetries, e.limiter, func() error {
			var err error
			resp, err = e.models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{TaskType: e.taskType})
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("embed content: %w", err)
		}
		if resp == nil || len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("gemini api returned %d embeddings for %d texts", embeddingCount(resp), end-start)
		}

		for _, emb := range resp.Embeddings {
			if emb == nil || len(emb.Values) == 0 {
				return nil, errors.New("gemini api returned an empty embedding")
			}
			out = append(out, emb.Values)
		}

		e.logger.Debug("gemini embeddings", zap.Int("batch", end-start))
	}
	return out, nil
}

func embeddingCount(resp *genai.EmbedContentResponse) int {
	if resp == nil {
		return 0
	}
	return len(resp.Embeddings)
}
