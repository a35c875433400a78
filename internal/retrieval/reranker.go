package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/occumatch/internal/ai"
	"github.com/spigell/occumatch/internal/logger"
	"github.com/spigell/occumatch/internal/taxonomy"
)

// Reranker rescores candidates with a pair scorer. Its output is always a
// permutation of its input.
type Reranker struct {
	scorer   ai.PairScorer
	taxonomy *taxonomy.Store
	timeout  time.Duration
	logger   *zap.Logger
}

func NewReranker(scorer ai.PairScorer, store *taxonomy.Store, timeout time.Duration, log *zap.Logger) *Reranker {
	return &Reranker{
		scorer:   scorer,
		taxonomy: store,
		timeout:  timeout,
		logger:   logger.WithFields(log, zap.String(logger.FieldStage, "rerank")),
	}
}

// Rerank sorts candidates by rerank score. When scoring fails the input order is
// returned unchanged with every rerank score cleared.
func (r *Reranker) Rerank(ctx context.Context, text string, candidates []Candidate) []Candidate {
	out := make([]Candidate, len(candidates))
	for i, c := range candidates {
		c.RerankScore = nil
		out[i] = c
	}
	if len(out) == 0 || r == nil || r.scorer == nil {
		return out
	}

	scores, err := r.score(ctx, text, out)
	if err != nil {
		r.logger.Warn("rerank failed, keeping retriever order", zap.Error(err))
		return out
	}

	for i := range out {
		s := scores[i]
		out[i].RerankScore = &s
	}
	sort.SliceStable(out, func(i, j int) bool {
		return *out[i].RerankScore > *out[j].RerankScore
	})
	return out
}

func (r *Reranker) score(ctx context.Context, text string, candidates []Candidate) (scores []float64, err error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("scorer panic: %v", p)
		}
	}()

	docs := make([]string, len(candidates))
	for i, c := range candidates {
		docs[i] = c.Label
		if n, ok := r.taxonomy.Get(c.Code); ok {
			docs[i] = n.Text()
		}
	}

	scores, err = r.scorer.Score(ctx, text, docs)
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if len(scores) != len(candidates) {
		return nil, errors.New("scorer returned a different number of scores")
	}
	return scores, nil
}
