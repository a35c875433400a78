package embedding

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var ErrDimension = errors.New("vector dimension mismatch")

// Hit is a scored index entry.
type Hit struct {
	Code  string  `json:"code"`
	Score float64 `json:"score"`
}

// Index is a brute-force cosine index over L2-normalized vectors.
// Immutable after construction.
type Index struct {
	model   string
	dim     int
	codes   []string
	vectors [][]float32
}

// NewIndex normalizes the vectors whose code passes keep. A nil keep accepts every code.
func NewIndex(model string, vectors map[string][]float32, keep func(code string) bool) (*Index, error) {
	idx := &Index{model: model}

	for code := range vectors {
		if keep == nil || keep(code) {
			idx.codes = append(idx.codes, code)
		}
	}
	sort.Strings(idx.codes)

	idx.vectors = make([][]float32, len(idx.codes))
	for i, code := range idx.codes {
		vec := vectors[code]
		if len(vec) == 0 {
			return nil, fmt.Errorf("empty vector for %q", code)
		}
		if idx.dim == 0 {
			idx.dim = len(vec)
		}
		if len(vec) != idx.dim {
			return nil, fmt.Errorf("%w: %q has %d, want %d", ErrDimension, code, len(vec), idx.dim)
		}
		idx.vectors[i] = Normalize(vec)
	}

	return idx, nil
}

func (idx *Index) Len() int {
	if idx == nil {
		return 0
	}
	return len(idx.codes)
}

func (idx *Index) Dim() int {
	return idx.dim
}

func (idx *Index) Model() string {
	return idx.model
}

// Has reports whether a vector is stored for code.
func (idx *Index) Has(code string) bool {
	i := sort.SearchStrings(idx.codes, code)
	return i < len(idx.codes) && idx.codes[i] == code
}

// Search returns up to k hits with a score of at least minScore, by score
// descending and code ascending on ties. The query is normalized first.
func (idx *Index) Search(query []float32, k int, minScore float64) ([]Hit, error) {
	if idx.Len() == 0 || k <= 0 {
		return []Hit{}, nil
	}
	if len(query) != idx.dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimension, len(query), idx.dim)
	}

	q := Normalize(query)
	hits := make([]Hit, 0, len(idx.codes))
	for i, vec := range idx.vectors {
		score := dot(q, vec)
		if score < minScore {
			continue
		}
		hits = append(hits, Hit{Code: idx.codes[i], Score: score})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Code < hits[j].Code
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Normalize returns an L2-normalized copy of vec. A zero vector stays zero.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}

	out := make([]float32, len(vec))
	if sum == 0 {
		return out
	}
	norm := math.Sqrt(sum)
	for i, v := range vec {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	// rounding keeps equal vectors tied regardless of summation noise
	return math.Round(sum*1e9) / 1e9
}
