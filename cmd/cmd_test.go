package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/spigell/occumatch/internal/pipeline"
	"github.com/spigell/occumatch/internal/store"
)

type countingReloader struct {
	calls int
	err   error
}

func (c *countingReloader) Reload() error {
	c.calls++
	return c.err
}

func TestRematchSignalsOnlyAcceptedReloads(t *testing.T) {
	next := make(chan struct{}, 1)
	target := &countingReloader{}
	r := rematch{target: target, next: next}

	if err := r.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	// a pending rerun absorbs further reloads
	if err := r.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(next) != 1 {
		t.Fatalf("expected one pending rerun, got %d", len(next))
	}
	<-next

	target.err = errors.New("bad rule")
	if err := r.Reload(); err == nil {
		t.Fatal("expected reload error")
	}
	if len(next) != 0 {
		t.Fatal("rejected reload must not trigger a rerun")
	}
	if target.calls != 3 {
		t.Fatalf("expected 3 reloads, got %d", target.calls)
	}
}

func TestRedactedHidesAPIKey(t *testing.T) {
	cfg := &Config{AI: &AIConfig{Gemini: &GeminiConfig{APIKey: "secret", Model: "m"}}}

	out := redacted(cfg)
	if out.AI.Gemini.APIKey != "***" {
		t.Fatalf("api key not redacted: %q", out.AI.Gemini.APIKey)
	}
	if cfg.AI.Gemini.APIKey != "secret" {
		t.Fatal("redaction changed the input config")
	}
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	st, err := openStore(ctx, &StoreConfig{Driver: "Memory"})
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, ok := st.(*store.Memory); !ok {
		t.Fatalf("expected memory store, got %T", st)
	}

	if _, err := openStore(ctx, nil); err == nil {
		t.Fatal("expected error without store config")
	}
	if _, err := openStore(ctx, &StoreConfig{Driver: "mongo"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestNewModelsRejectsUnknownNames(t *testing.T) {
	ctx := context.Background()

	if _, err := newModels(ctx, &Config{AI: &AIConfig{Embedder: "word2vec"}}, nil); err == nil {
		t.Fatal("expected error for unknown embedder")
	}
	if _, err := newModels(ctx, &Config{Retrieval: &RetrievalConfig{Reranker: "bm25"}}, nil); err == nil {
		t.Fatal("expected error for unknown reranker")
	}

	m, err := newModels(ctx, &Config{Retrieval: &RetrievalConfig{Reranker: rerankerNone}}, nil)
	if err != nil {
		t.Fatalf("hash embedder: %v", err)
	}
	if m.scorer != nil || m.provider != nil {
		t.Fatalf("unexpected models %+v", m)
	}
}

func TestMatchAlwaysSkipsReviewedResults(t *testing.T) {
	if f := matchCmd.Flags().Lookup("include-reviewed"); f != nil {
		t.Fatalf("unexpected flag %q", f.Name)
	}
	for _, status := range pipeline.Describe(pipeline.DefaultFilters()) {
		if status.Name == "terminal_results" && !status.Enabled {
			t.Fatal("terminal_results filter must be enabled by default")
		}
	}
}
