package posting

import (
	"strings"

	"github.com/spigell/occumatch/internal/utils"
)

const (
	FieldID        = "id"
	FieldTitle     = "title"
	FieldArea      = "area"
	FieldSeniority = "seniority"
	FieldLocation  = "location"
	FieldTasks     = "tasks"
	FieldSkills    = "skills"
)

// Record is a structured posting produced by the upstream extraction stage.
// The core never mutates it.
type Record struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Area       string         `json:"area,omitempty"`
	Seniority  string         `json:"seniority,omitempty"`
	Location   string         `json:"location,omitempty"`
	Tasks      []string       `json:"tasks,omitempty"`
	Skills     []string       `json:"skills,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Records is an ordered set of postings.
type Records struct {
	Items []*Record
}

// Field returns a named field. Named fields take precedence over attributes.
// The second value reports whether the field is known at all.
func (r *Record) Field(name string) (any, bool) {
	switch name {
	case FieldID:
		return r.ID, true
	case FieldTitle:
		return r.Title, true
	case FieldArea:
		return nullable(r.Area), true
	case FieldSeniority:
		return nullable(r.Seniority), true
	case FieldLocation:
		return nullable(r.Location), true
	case FieldTasks:
		return r.Tasks, true
	case FieldSkills:
		return r.Skills, true
	}

	v, ok := r.Attributes[name]
	return v, ok
}

// Text is the normalized text used for occupation retrieval.
func (r *Record) Text() string {
	parts := make([]string, 0, 1+len(r.Tasks)+len(r.Skills))
	parts = append(parts, r.Title)
	parts = append(parts, r.Tasks...)
	parts = append(parts, r.Skills...)
	return utils.NormalizeText(strings.Join(parts, ". "))
}

// CopyAttributes returns a shallow copy of the attribute map.
func (r *Record) CopyAttributes() map[string]any {
	if len(r.Attributes) == 0 {
		return nil
	}
	out := make(map[string]any, len(r.Attributes))
	for k, v := range r.Attributes {
		out[k] = v
	}
	return out
}

func (r *Records) Len() int {
	return len(r.Items)
}

func (r *Records) FindByID(id string) *Record {
	for _, rec := range r.Items {
		if rec.ID == id {
			return rec
		}
	}
	return nil
}

func (r *Records) IDs() []string {
	ids := make([]string, 0, len(r.Items))
	for _, rec := range r.Items {
		ids = append(ids, rec.ID)
	}
	return ids
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

// Exclude removes postings whose id is in ids and returns the removed ids.
// The order of the remaining postings is kept.
func (r *Records) Exclude(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	var removed []string
	kept := r.Items[:0]
	for _, rec := range r.Items {
		if _, ok := drop[rec.ID]; ok {
			removed = append(removed, rec.ID)
			continue
		}
		kept = append(kept, rec)
	}
	r.Items = kept
	return removed
}
