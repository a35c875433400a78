package ai

import (
	"context"
	"errors"
	"time"
)

// Embedder turns texts into dense vectors. One vector per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
}

// PairScorer jointly scores a query against each document. One score per document, in order.
type PairScorer interface {
	Score(ctx context.Context, query string, docs []string) ([]float64, error)
}

// Candidate is a taxonomy entry suggested by a reviewer.
type Candidate struct {
	Code   string  `json:"code"`
	Label  string  `json:"label,omitempty"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason,omitempty"`
}

// Reviewer classifies free text into a ranked list of candidates chosen from options.
type Reviewer interface {
	Classify(ctx context.Context, text string, options []Candidate) ([]Candidate, error)
}

var ErrNoReviewer = errors.New("reviewer is not configured")

// ClassifyWithTimeout bounds a reviewer call. On failure the fallback options are
// returned together with the error so callers can keep going.
func ClassifyWithTimeout(ctx context.Context, r Reviewer, timeout time.Duration, text string, options []Candidate) ([]Candidate, error) {
	if r == nil {
		return options, ErrNoReviewer
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := r.Classify(ctx, text, options)
	if err != nil {
		return options, err
	}
	return out, nil
}
