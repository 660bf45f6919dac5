package util

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}
	value = strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(value, "\x00", "")
}

// NormalizeWhitespace trims s and collapses every run of whitespace into one space.
func NormalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeKey lower-cases s and collapses whitespace. Used for cache keys and slug lookup.
func NormalizeKey(s string) string {
	return strings.ToLower(NormalizeWhitespace(s))
}

// Tokenize splits s into lower-cased alphanumeric terms.
func Tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// TruncateRunes shortens s to at most limit runes, ending with "..." when cut.
func TruncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	if limit <= 3 {
		return string([]rune(s)[:limit])
	}
	runes := []rune(s)[:limit-3]
	return strings.TrimRightFunc(string(runes), unicode.IsSpace) + "..."
}
