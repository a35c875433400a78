package taxonomy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func sampleNodes() []*Node {
	return []*Node{
		{Code: "2", Label: "Professionals", Kind: KindGroup},
		{Code: "25", Label: "ICT professionals", Kind: KindGroup, ParentCode: "2"},
		{Code: "2512", Label: "Software developers", Kind: KindGroup, ParentCode: "25"},
		{
			Code:       "occ-python",
			Label:      "Python developer",
			AltLabels:  []string{"Desarrollador Python"},
			ParentCode: "2512",
			SkillRelations: []SkillRelation{
				{SkillCode: "sk-python", Relation: RelationEssential},
				{SkillCode: "sk-sql", Relation: RelationOptional},
			},
		},
		{Code: "occ-nurse", Label: "Nurse", GroupCode: "2221"},
		{Code: "sk-python", Label: "Python", Kind: KindSkill},
		{Code: "sk-sql", Label: "SQL", AltLabels: []string{"Structured Query Language"}, Kind: KindSkill},
		{Code: "sk-care", Label: "Patient care", Kind: KindSkill},
	}
}

func TestNewStore(t *testing.T) {
	store, err := New(sampleNodes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := store.GroupCode("occ-python"); got != "2512" {
		t.Fatalf("expected nearest group 2512, got %q", got)
	}
	if got := store.GroupCode("occ-nurse"); got != "2221" {
		t.Fatalf("expected explicit group 2221, got %q", got)
	}

	if got := store.Relation("occ-python", "sk-python"); got != RelationEssential {
		t.Fatalf("expected essential relation, got %q", got)
	}
	if got := store.Relation("occ-python", "sk-care"); got != RelationNone {
		t.Fatalf("expected no relation, got %q", got)
	}

	if got := store.LookupLabel(KindSkill, "  structured QUERY language "); !cmp.Equal(got, []string{"sk-sql"}) {
		t.Fatalf("unexpected label lookup: %v", got)
	}
	if got := store.LookupLabel(KindOccupation, "desarrollador python"); !cmp.Equal(got, []string{"occ-python"}) {
		t.Fatalf("unexpected occupation lookup: %v", got)
	}

	var codes []string
	for _, n := range store.Nodes(KindSkill) {
		codes = append(codes, n.Code)
	}
	if diff := cmp.Diff([]string{"sk-care", "sk-python", "sk-sql"}, codes); diff != "" {
		t.Fatalf("unexpected skill order (-want +got):\n%s", diff)
	}

	ancestors, err := store.Ancestors("occ-python")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if diff := cmp.Diff([]string{"2512", "25", "2"}, ancestors); diff != "" {
		t.Fatalf("unexpected ancestors (-want +got):\n%s", diff)
	}
}

func TestNewStoreErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		nodes  []*Node
		target error
	}{
		{
			name:   "cycle",
			nodes:  []*Node{{Code: "a", Label: "A", ParentCode: "b"}, {Code: "b", Label: "B", ParentCode: "a"}},
			target: ErrCycle,
		},
		{
			name:   "unknown parent",
			nodes:  []*Node{{Code: "a", Label: "A", ParentCode: "zzz"}},
			target: ErrUnknownParent,
		},
		{
			name:   "duplicate code",
			nodes:  []*Node{{Code: "a", Label: "A"}, {Code: "a", Label: "A again"}},
			target: ErrDuplicateCode,
		},
		{
			name: "relation to occupation",
			nodes: []*Node{
				{Code: "a", Label: "A", SkillRelations: []SkillRelation{{SkillCode: "b", Relation: RelationEssential}}},
				{Code: "b", Label: "B"},
			},
			target: ErrUnknownSkill,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := New(tt.nodes)
			if !errors.Is(err, tt.target) {
				t.Fatalf("expected %v, got %v", tt.target, err)
			}
		})
	}
}

func TestDepthBound(t *testing.T) {
	var nodes []*Node
	for i := 0; i <= MaxDepth+1; i++ {
		n := &Node{Code: string(rune('a' + i)), Label: "level"}
		if i > 0 {
			n.ParentCode = string(rune('a' + i - 1))
		}
		nodes = append(nodes, n)
	}

	if _, err := New(nodes); !errors.Is(err, ErrCycle) {
		t.Fatalf("expected depth bound error, got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "taxonomy.yaml")
	content := `
nodes:
  - code: "25"
    label: ICT professionals
    kind: group
  - code: occ-go
    label: Go developer
    parent_code: "25"
    skill_relations:
      - skill_code: sk-go
        relation: essential
  - code: sk-go
    label: Go
    kind: skill
`
	if err := os.WriteFile(yamlPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	store, err := LoadFile(yamlPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.Len() != 3 || store.GroupCode("occ-go") != "25" {
		t.Fatalf("unexpected store: len=%d group=%q", store.Len(), store.GroupCode("occ-go"))
	}

	jsonPath := filepath.Join(dir, "taxonomy.json")
	if err := os.WriteFile(jsonPath, []byte(`[{"code":"x","label":"X","alt_labels":["Ex"]}]`), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	store, err = LoadFile(jsonPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n, ok := store.Get("x"); !ok || n.Kind != KindOccupation || len(n.AltLabels) != 1 {
		t.Fatalf("unexpected node: %+v", n)
	}
}
