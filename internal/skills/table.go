package skills

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/spigell/occumatch/internal/rules"
	"github.com/spigell/occumatch/internal/taxonomy"
	"github.com/spigell/occumatch/internal/utils"
)

const DocumentKey = "mappings"

// Mapping ties a declared skill text to taxonomy skill codes.
type Mapping struct {
	Text       string   `mapstructure:"text"`
	SkillCode  string   `mapstructure:"skill_code"`
	SkillCodes []string `mapstructure:"skill_codes"`
}

// Table is the rule-side skill lookup keyed on normalized declared text.
type Table struct {
	entries map[string][]string
}

func NewTable(mappings []Mapping, store *taxonomy.Store) (*Table, error) {
	t := &Table{entries: make(map[string][]string, len(mappings))}
	for i, m := range mappings {
		key := utils.NormalizeText(m.Text)
		if key == "" {
			return nil, fmt.Errorf("mapping #%d: text is required", i)
		}

		codes := m.SkillCodes
		if m.SkillCode != "" {
			codes = append([]string{m.SkillCode}, codes...)
		}
		if len(codes) == 0 {
			return nil, fmt.Errorf("mapping %q: no skill code", m.Text)
		}
		for _, code := range codes {
			if !store.Has(code, taxonomy.KindSkill) {
				return nil, fmt.Errorf("mapping %q: unknown skill code %q", m.Text, code)
			}
			t.entries[key] = appendUnique(t.entries[key], code)
		}
	}
	return t, nil
}

// LoadTable reads mapping documents. No paths yields an empty table.
func LoadTable(paths []string, store *taxonomy.Store) (*Table, error) {
	entries, err := rules.ReadList(paths, DocumentKey)
	if err != nil {
		return nil, err
	}

	mappings := make([]Mapping, 0, len(entries))
	for _, e := range entries {
		var m Mapping
		if err := mapstructure.Decode(e.Raw, &m); err != nil {
			return nil, fmt.Errorf("%s: %w", e.Source, err)
		}
		mappings = append(mappings, m)
	}
	return NewTable(mappings, store)
}

// Lookup returns the mapped codes for a declared skill.
func (t *Table) Lookup(text string) []string {
	if t == nil {
		return nil
	}
	return t.entries[utils.NormalizeText(text)]
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, strings.TrimSpace(v))
}
