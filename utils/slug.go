package utils

import (
	"strings"
	"unicode"
)

// Slugify lowercases s, drops every character that is not an ASCII letter,
// digit, underscore, hyphen or whitespace, and collapses runs of hyphens and
// whitespace into a single hyphen. Leading and trailing hyphens and
// underscores are trimmed.
//
//	"Association / Location / Schools" -> "association-location-schools"
func Slugify(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	pendingSep := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r == '-' || unicode.IsSpace(r):
			pendingSep = true
		case r == '_' || (r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r))):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingSep = false
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-_")
}

// FieldKey turns a scraped label into the snake_case key used inside a
// category, e.g. "Condo/Coop Fee" -> "condocoop_fee".
func FieldKey(label string) string {
	return strings.ReplaceAll(Slugify(label), "-", "_")
}
