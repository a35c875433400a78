package posting

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRecordField(t *testing.T) {
	rec := &Record{
		ID:         "p1",
		Title:      "Go Developer",
		Seniority:  "",
		Skills:     []string{"Go"},
		Attributes: map[string]any{"requires_license": "N/D"},
	}

	if v, ok := rec.Field(FieldTitle); !ok || v != "Go Developer" {
		t.Fatalf("unexpected title field: %v %v", v, ok)
	}

	if v, ok := rec.Field(FieldSeniority); !ok || v != nil {
		t.Fatalf("expected empty seniority to be null, got %v", v)
	}

	if v, ok := rec.Field("requires_license"); !ok || v != "N/D" {
		t.Fatalf("unexpected attribute: %v %v", v, ok)
	}

	if _, ok := rec.Field("missing"); ok {
		t.Fatalf("expected unknown field to be reported")
	}
}

func TestRecordText(t *testing.T) {
	rec := &Record{Title: "Desarrollador  Python Senior", Tasks: []string{"Build APIs"}, Skills: []string{"Django"}}
	got := rec.Text()
	if got != "desarrollador python senior. build apis. django" {
		t.Fatalf("unexpected text: %q", got)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()

	arrayPath := filepath.Join(dir, "postings.json")
	if err := os.WriteFile(arrayPath, []byte(`[{"id":"1","title":"Nurse"},{"id":" 2 ","title":"Driver"}]`), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	records, err := LoadFile(arrayPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if records.Len() != 2 || records.FindByID("2") == nil {
		t.Fatalf("unexpected records: %v", records.IDs())
	}

	linesPath := filepath.Join(dir, "postings.jsonl")
	content := "{\"id\":\"a\",\"title\":\"Cook\"}\n\n{\"id\":\"b\",\"title\":\"Baker\",\"attributes\":{\"remote\":true}}\n"
	if err := os.WriteFile(linesPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	records, err = LoadFile(linesPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if records.Len() != 2 {
		t.Fatalf("expected 2 records, got %d", records.Len())
	}
	if v, _ := records.FindByID("b").Field("remote"); v != true {
		t.Fatalf("expected attribute to be decoded, got %v", v)
	}
}

func TestLoadFileErrors(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]string{
		"missing.jsonl":   "{\"title\":\"no id\"}\n",
		"duplicate.json":  `[{"id":"1"},{"id":"1"}]`,
		"malformed.jsonl": "{\"id\":\"1\"}\n{oops\n",
	}

	for name, content := range cases {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write file: %v", err)
		}
		if _, err := LoadFile(path); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}

	empty := filepath.Join(dir, "empty.json")
	if err := os.WriteFile(empty, []byte("  "), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	records, err := LoadFile(empty)
	if err != nil || records.Len() != 0 {
		t.Fatalf("expected empty records, got %v %v", records, err)
	}

	if _, err := LoadFile(filepath.Join(dir, "nope.json")); err == nil || !strings.Contains(err.Error(), "nope.json") {
		t.Fatalf("expected missing file error, got %v", err)
	}
}

func TestExcludeAndLoadIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exclude.txt")
	if err := os.WriteFile(path, []byte("# reviewed\np-2\n\n  p-9  \n"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	ids, err := LoadIDs(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	records := &Records{Items: []*Record{{ID: "p-1"}, {ID: "p-2"}, {ID: "p-3"}}}
	removed := records.Exclude(ids)
	if len(removed) != 1 || removed[0] != "p-2" {
		t.Fatalf("unexpected removed ids %v", removed)
	}
	if got := strings.Join(records.IDs(), ","); got != "p-1,p-3" {
		t.Fatalf("expected order to be kept, got %s", got)
	}
}
