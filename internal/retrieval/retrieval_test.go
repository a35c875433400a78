package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/occumatch/internal/embedding"
	"github.com/spigell/occumatch/internal/taxonomy"
)

type mapEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (m *mapEmbedder) Model() string { return "map" }

func (m *mapEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = m.vectors[text]
	}
	return out, nil
}

type stubScorer struct {
	scores []float64
	err    error
	delay  time.Duration
}

func (s *stubScorer) Score(ctx context.Context, _ string, docs []string) ([]float64, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.scores, nil
}

func fixture(t *testing.T) (*taxonomy.Store, *embedding.Index) {
	t.Helper()

	store, err := taxonomy.New([]*taxonomy.Node{
		{Code: "occ-dev", Label: "Software developer", AltLabels: []string{"Desarrollador de software"}},
		{Code: "occ-data", Label: "Data scientist"},
		{Code: "occ-nurse", Label: "Nurse"},
		{Code: "occ-analyst", Label: "Systems analyst"},
	})
	if err != nil {
		t.Fatalf("taxonomy: %v", err)
	}

	idx, err := embedding.NewIndex("map", map[string][]float32{
		"occ-dev":     {1, 0, 0},
		"occ-data":    {0.8, 0.6, 0},
		"occ-analyst": {0.8, 0.6, 0},
		"occ-nurse":   {0, 0, 1},
	}, nil)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	return store, idx
}

func codes(cands []Candidate) []string {
	out := make([]string, 0, len(cands))
	for _, c := range cands {
		out = append(out, c.Code)
	}
	return out
}

func TestRetrieve(t *testing.T) {
	store, idx := fixture(t)
	emb := &mapEmbedder{vectors: map[string][]float32{"desarrollador python senior": {0.7, 0.7, 0}}}
	r := NewRetriever(emb, idx, store, 3, time.Second, zap.NewNop())

	cands, err := r.Retrieve(context.Background(), "desarrollador python senior")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if diff := cmp.Diff([]string{"occ-analyst", "occ-data", "occ-dev"}, codes(cands)); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
	if cands[0].Similarity != cands[1].Similarity {
		t.Fatalf("expected tied similarity, got %v and %v", cands[0].Similarity, cands[1].Similarity)
	}
	if cands[2].Label != "Software developer" || cands[2].RerankScore != nil {
		t.Fatalf("unexpected candidate: %+v", cands[2])
	}
}

func TestRetrieveErrors(t *testing.T) {
	store, idx := fixture(t)

	r := NewRetriever(&mapEmbedder{}, idx, store, 3, 0, nil)
	var empty *EmptyInputError
	if _, err := r.Retrieve(context.Background(), "   "); !errors.As(err, &empty) {
		t.Fatalf("expected EmptyInputError, got %v", err)
	}

	failing := NewRetriever(&mapEmbedder{err: errors.New("down")}, idx, store, 3, 0, nil)
	var modelErr *ModelError
	if _, err := failing.Retrieve(context.Background(), "text"); !errors.As(err, &modelErr) {
		t.Fatalf("expected ModelError, got %v", err)
	}

	emptyIdx, _ := embedding.NewIndex("map", nil, nil)
	none := NewRetriever(&mapEmbedder{err: errors.New("not called")}, emptyIdx, store, 3, 0, nil)
	cands, err := none.Retrieve(context.Background(), "text")
	if err != nil || len(cands) != 0 {
		t.Fatalf("expected empty candidates for empty index, got %v %v", cands, err)
	}
}

func TestRerankSorts(t *testing.T) {
	store, _ := fixture(t)
	input := []Candidate{{Code: "occ-data", Similarity: 0.9}, {Code: "occ-dev", Similarity: 0.8}, {Code: "occ-nurse", Similarity: 0.1}}

	r := NewReranker(&stubScorer{scores: []float64{0.3, 0.95, 0.3}}, store, time.Second, zap.NewNop())
	out := r.Rerank(context.Background(), "text", input)

	if diff := cmp.Diff([]string{"occ-dev", "occ-data", "occ-nurse"}, codes(out)); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
	if out[0].RerankScore == nil || *out[0].RerankScore != 0.95 {
		t.Fatalf("expected rerank score attached, got %+v", out[0])
	}
	if input[0].RerankScore != nil {
		t.Fatalf("expected input to stay untouched")
	}
}

func TestRerankDegradesToInputOrder(t *testing.T) {
	store, _ := fixture(t)
	prev := 0.5
	input := []Candidate{
		{Code: "occ-data", Similarity: 0.9, RerankScore: &prev},
		{Code: "occ-dev", Similarity: 0.8},
	}

	tests := []struct {
		name   string
		scorer *stubScorer
	}{
		{name: "scorer error", scorer: &stubScorer{err: errors.New("model unavailable")}},
		{name: "wrong length", scorer: &stubScorer{scores: []float64{1}}},
		{name: "timeout", scorer: &stubScorer{scores: []float64{0.1, 0.9}, delay: time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, observed := observer.New(zapcore.WarnLevel)
			r := NewReranker(tt.scorer, store, 20*time.Millisecond, zap.New(core))

			out := r.Rerank(context.Background(), "text", input)

			if diff := cmp.Diff([]string{"occ-data", "occ-dev"}, codes(out)); diff != "" {
				t.Fatalf("expected input order (-want +got):\n%s", diff)
			}
			for _, c := range out {
				if c.RerankScore != nil {
					t.Fatalf("expected null rerank score, got %v for %s", *c.RerankScore, c.Code)
				}
			}
			if observed.Len() != 1 {
				t.Fatalf("expected failure to be logged, got %d entries", observed.Len())
			}
		})
	}
}

func TestOverlapScorer(t *testing.T) {
	scores, err := OverlapScorer{}.Score(context.Background(), "Desarrollador Python Senior para backend", []string{
		"Software developer; Desarrollador de software",
		"Python developer; Desarrollador Python",
		"Nurse",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scores[1] != 1 {
		t.Fatalf("expected full coverage for python developer, got %v", scores[1])
	}
	if scores[0] != 0.5 {
		t.Fatalf("expected half coverage for software developer, got %v", scores[0])
	}
	if scores[2] != 0 {
		t.Fatalf("expected no coverage for nurse, got %v", scores[2])
	}
}
