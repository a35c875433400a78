package embedding

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/spigell/occumatch/internal/utils"
)

// HashEmbedder is a deterministic offline embedder based on hashed character
// trigrams and word tokens. It needs no model and no network.
type HashEmbedder struct {
	Dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashEmbedder{Dim: dim}
}

func (h *HashEmbedder) Model() string {
	return fmt.Sprintf("hash-trigram-%d", h.Dim)
}

func (h *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = h.vector(text)
	}
	return out, nil
}

func (h *HashEmbedder) vector(text string) []float32 {
	vec := make([]float32, h.Dim)
	for _, tok := range utils.Tokens(text, 1) {
		h.add(vec, "w:"+tok, 2)

		runes := []rune("^" + tok + "$")
		for i := 0; i+3 <= len(runes); i++ {
			h.add(vec, string(runes[i:i+3]), 1)
		}
	}
	return Normalize(vec)
}

func (h *HashEmbedder) add(vec []float32, feature string, weight float32) {
	hasher := fnv.New32a()
	_, _ = hasher.Write([]byte(feature))
	sum := hasher.Sum32()

	bucket := int(sum % uint32(h.Dim))
	if sum&(1<<31) != 0 {
		weight = -weight
	}
	vec[bucket] += weight
}
