package embedding

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/spigell/occumatch/internal/ai"
	"github.com/spigell/occumatch/internal/utils"
)

// CachedEmbedder memoizes vectors by model and normalized text.
type CachedEmbedder struct {
	next ai.Embedder

	mu    sync.RWMutex
	cache map[string][]float32
}

func NewCachedEmbedder(next ai.Embedder) *CachedEmbedder {
	return &CachedEmbedder{next: next, cache: make(map[string][]float32)}
}

func (c *CachedEmbedder) Model() string {
	return c.next.Model()
}

// Embed only forwards texts that are not cached yet, in a single call.
func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	keys := make([]string, len(texts))

	var missing []string
	var missingIdx []int

	c.mu.RLock()
	for i, text := range texts {
		keys[i] = c.cacheKey(text)
		if vec, ok := c.cache[keys[i]]; ok {
			out[i] = cloneVector(vec)
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	c.mu.RUnlock()

	if len(missing) == 0 {
		return out, nil
	}

	vectors, err := c.next.Embed(ctx, missing)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(missing) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(missing))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for j, i := range missingIdx {
		c.cache[keys[i]] = cloneVector(vectors[j])
		out[i] = vectors[j]
	}
	return out, nil
}

func (c *CachedEmbedder) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

func (c *CachedEmbedder) cacheKey(text string) string {
	h := sha1.New()
	_, _ = io.WriteString(h, c.next.Model())
	_, _ = io.WriteString(h, "|")
	_, _ = io.WriteString(h, utils.NormalizeText(text))
	return hex.EncodeToString(h.Sum(nil))
}

func cloneVector(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}
