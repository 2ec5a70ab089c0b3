package search

import (
	"strings"
	"unicode"
)

// NormalizeQuery lowercases, drops punctuation other than the few symbols
// that appear in skill names, and collapses whitespace.
func NormalizeQuery(input string) string {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return ""
	}

	b := strings.Builder{}
	b.Grow(len(input))
	lastWasSpace := false
	for _, r := range input {
		switch {
		case unicode.IsLetter(r) || unicode.IsNumber(r) || r == '+' || r == '#' || r == '.':
			b.WriteRune(r)
			lastWasSpace = false
		case unicode.IsSpace(r) || r == '-' || r == '_' || r == '/':
			if b.Len() == 0 || lastWasSpace {
				continue
			}
			b.WriteByte(' ')
			lastWasSpace = true
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Term returns the canonical search term for a user-entered skill.
func Term(input string) string {
	n := NormalizeQuery(input)
	if n == "" {
		return ""
	}
	return CanonicalSkill(n)
}
