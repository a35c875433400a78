package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/occumatch/internal/ai"
	"github.com/spigell/occumatch/internal/embedding"
	"github.com/spigell/occumatch/internal/logger"
	"github.com/spigell/occumatch/internal/taxonomy"
)

const DefaultTopK = 10

// Candidate is an occupation proposed by the semantic path.
type Candidate struct {
	Code        string   `json:"code"`
	Label       string   `json:"label"`
	Similarity  float64  `json:"similarity"`
	RerankScore *float64 `json:"rerank_score"`
}

// Score is the rerank score when present, otherwise the similarity.
func (c Candidate) Score() float64 {
	if c.RerankScore != nil {
		return *c.RerankScore
	}
	return c.Similarity
}

// Retriever embeds posting text and queries the occupation index.
type Retriever struct {
	embedder ai.Embedder
	index    *embedding.Index
	taxonomy *taxonomy.Store
	topK     int
	timeout  time.Duration
	logger   *zap.Logger
}

func NewRetriever(embedder ai.Embedder, index *embedding.Index, store *taxonomy.Store, topK int, timeout time.Duration, log *zap.Logger) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{
		embedder: embedder,
		index:    index,
		taxonomy: store,
		topK:     topK,
		timeout:  timeout,
		logger:   logger.WithFields(log, zap.String(logger.FieldStage, "retrieve")),
	}
}

// Retrieve returns up to topK candidates by cosine similarity, ties broken by code.
func (r *Retriever) Retrieve(ctx context.Context, text string) ([]Candidate, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, &EmptyInputError{}
	}
	if r.index.Len() == 0 {
		return []Candidate{}, nil
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	vectors, err := r.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, &ModelError{Op: "embed posting", Err: err}
	}
	if len(vectors) != 1 {
		return nil, &ModelError{Op: "embed posting", Err: fmt.Errorf("expected 1 vector, got %d", len(vectors))}
	}

	hits, err := r.index.Search(vectors[0], r.topK, -1)
	if err != nil {
		return nil, &ModelError{Op: "search index", Err: err}
	}

	out := make([]Candidate, 0, len(hits))
	for _, hit := range hits {
		out = append(out, Candidate{
			Code:       hit.Code,
			Label:      r.taxonomy.Label(hit.Code),
			Similarity: hit.Score,
		})
	}

	r.logger.Debug("candidates retrieved", zap.Int("count", len(out)))
	return out, nil
}
