package utils

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText applies NFKC, lowercases and collapses whitespace.
func NormalizeText(s string) string {
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	return strings.Join(strings.Fields(s), " ")
}

// Tokens splits normalized text into letter/digit runs.
// Tokens shorter than minLen runes are dropped.
func Tokens(s string, minLen int) []string {
	s = NormalizeText(s)
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '#'
	})

	out := parts[:0]
	for _, p := range parts {
		if len([]rune(p)) < minLen {
			continue
		}
		out = append(out, p)
	}
	return out
}

// TokenSet returns the unique tokens of s.
func TokenSet(s string, minLen int) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range Tokens(s, minLen) {
		set[tok] = struct{}{}
	}
	return set
}
