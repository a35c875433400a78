package utils

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNormalizeText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		expect string
	}{
		{name: "collapses whitespace", input: "  Senior \t Go\nDeveloper ", expect: "senior go developer"},
		{name: "folds full width characters", input: "ＰＹＴＨＯＮ", expect: "python"},
		{name: "empty", input: "   ", expect: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NormalizeText(tt.input); got != tt.expect {
				t.Fatalf("expected %q, got %q", tt.expect, got)
			}
		})
	}
}

func TestTokens(t *testing.T) {
	got := Tokens("Desarrollador C++ / Python, SQL (senior)", 2)
	want := []string{"desarrollador", "c++", "python", "sql", "senior"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected tokens (-want +got):\n%s", diff)
	}

	if got := Tokens("a b go", 2); len(got) != 1 || got[0] != "go" {
		t.Fatalf("expected short tokens to be dropped, got %v", got)
	}
}
