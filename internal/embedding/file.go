package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/spigell/occumatch/internal/ai"
	"github.com/spigell/occumatch/internal/taxonomy"
)

// File is the on-disk vectors document keyed by taxonomy code.
type File struct {
	Model   string               `json:"model"`
	Dim     int                  `json:"dim"`
	Vectors map[string][]float32 `json:"vectors"`
}

func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode vectors %s: %w", path, err)
	}
	for code, vec := range f.Vectors {
		if f.Dim == 0 {
			f.Dim = len(vec)
		}
		if len(vec) != f.Dim {
			return nil, fmt.Errorf("%w: %q in %s", ErrDimension, code, path)
		}
	}
	return &f, nil
}

func (f *File) ToFile(path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(f)
}

// Indexes splits the vectors into an occupation index and a skill index.
func (f *File) Indexes(store *taxonomy.Store) (*Index, *Index, error) {
	occupations, err := NewIndex(f.Model, f.Vectors, func(code string) bool {
		return store.Has(code, taxonomy.KindOccupation)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("occupation index: %w", err)
	}

	skills, err := NewIndex(f.Model, f.Vectors, func(code string) bool {
		return store.Has(code, taxonomy.KindSkill)
	})
	if err != nil {
		return nil, nil, fmt.Errorf("skill index: %w", err)
	}
	return occupations, skills, nil
}

// Build embeds every occupation and skill node in batches of batchSize.
func Build(ctx context.Context, embedder ai.Embedder, store *taxonomy.Store, batchSize int) (*File, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if batchSize <= 0 {
		batchSize = 32
	}

	var nodes []*taxonomy.Node
	nodes = append(nodes, store.Nodes(taxonomy.KindOccupation)...)
	nodes = append(nodes, store.Nodes(taxonomy.KindSkill)...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Code < nodes[j].Code })

	f := &File{Model: embedder.Model(), Vectors: make(map[string][]float32, len(nodes))}
	for start := 0; start < len(nodes); start += batchSize {
		end := min(start+batchSize, len(nodes))
		batch := nodes[start:end]

		texts := make([]string, len(batch))
		for i, n := range batch {
			texts[i] = n.Text()
		}

		vectors, err := embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed nodes %d-%d: %w", start, end, err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(batch))
		}
		for i, n := range batch {
			if f.Dim == 0 {
				f.Dim = len(vectors[i])
			}
			if len(vectors[i]) != f.Dim {
				return nil, fmt.Errorf("%w: %q", ErrDimension, n.Code)
			}
			f.Vectors[n.Code] = vectors[i]
		}
	}
	return f, nil
}
