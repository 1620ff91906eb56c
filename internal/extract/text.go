package extract

import (
	"strings"
	"unicode"
)

// isSpace matches Unicode white space plus the ASCII information
// separators U+001C to U+001F.
func isSpace(r rune) bool {
	return unicode.IsSpace(r) || (r >= 0x1c && r <= 0x1f)
}

// Normalize collapses whitespace runs to a single space and trims.
func Normalize(s string) string {
	return strings.Join(strings.FieldsFunc(s, isSpace), " ")
}

// join concatenates text chunks with a space between them.
func join(chunks []string) string {
	return Normalize(strings.Join(chunks, " "))
}
