package utils

import "testing"

func TestTruncateForLog(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{name: "disabled", in: "backend engineer", limit: 0, want: ""},
		{name: "fits", in: "backend", limit: 7, want: "backend"},
		{name: "cut", in: "backend engineer", limit: 7, want: "backend..."},
		{name: "multiline description", in: "  Python\n\tDjango \r\n SQL ", limit: 50, want: "Python Django SQL"},
		{name: "multibyte runes", in: "разработчик python", limit: 11, want: "разработчик..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := TruncateForLog(tt.in, tt.limit); got != tt.want {
				t.Fatalf("TruncateForLog(%q, %d) = %q, want %q", tt.in, tt.limit, got, tt.want)
			}
		})
	}
}
