// Package strings holds small text helpers for human-facing output.
package strings

import (
	"strings"
)

// minTruncateLen leaves room for at least one character plus "...".
const minTruncateLen = 4

// Truncate flattens s to a single line and caps it at maxLen runes,
// appending "..." when content was cut. Whitespace runs collapse to one
// space so multi-line input stays table-safe.
func Truncate(s string, maxLen int) string {
	if maxLen < minTruncateLen {
		maxLen = minTruncateLen
	}

	s = strings.Join(strings.Fields(s), " ")

	// Slice by runes so multi-byte characters are never split.
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
