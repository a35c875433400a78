package retrieval

import (
	"context"
	"strings"

	"github.com/spigell/occumatch/internal/utils"
)

var overlapStopWords = map[string]struct{}{
	"and": {}, "the": {}, "for": {}, "with": {}, "of": {}, "in": {},
	"de": {}, "la": {}, "el": {}, "en": {}, "y": {}, "del": {}, "los": {}, "las": {},
}

// OverlapScorer is an offline pair scorer. A document is a "; " separated list
// of labels; its score is the best share of a label's keywords found in the query.
type OverlapScorer struct{}

func (OverlapScorer) Score(_ context.Context, query string, docs []string) ([]float64, error) {
	q := keywords(query)

	scores := make([]float64, len(docs))
	for i, doc := range docs {
		for _, label := range strings.Split(doc, ";") {
			if s := coverage(q, keywords(label)); s > scores[i] {
				scores[i] = s
			}
		}
	}
	return scores, nil
}

func coverage(query, label map[string]struct{}) float64 {
	if len(label) == 0 {
		return 0
	}
	inter := 0
	for kw := range label {
		if _, ok := query[kw]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(label))
}

func keywords(text string) map[string]struct{} {
	set := utils.TokenSet(text, 2)
	for w := range overlapStopWords {
		delete(set, w)
	}
	return set
}
