package entity

import (
	"strings"
	"unicode"
)

// snakeCase converts field and entity names to snake_case column and table
// identifiers. Punctuation collapses into a single underscore so names coming
// from manifests ("Transfer.from", "block-number") still map to valid SQL
// identifiers.
func snakeCase(s string) string {
	if s == "" {
		return ""
	}

	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + len(runes)/2)

	sep := false
	separate := func() {
		if !sep && b.Len() > 0 {
			b.WriteByte('_')
			sep = true
		}
	}

	for i, r := range runes {
		switch {
		case unicode.IsUpper(r):
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
					separate()
				}
			}
			b.WriteRune(unicode.ToLower(r))
			sep = false

		case unicode.IsLower(r):
			b.WriteRune(r)
			sep = false

		case unicode.IsDigit(r):
			if i > 0 && !unicode.IsDigit(runes[i-1]) {
				separate()
			}
			b.WriteRune(r)
			sep = false

		default:
			separate()
		}
	}

	return strings.Trim(b.String(), "_")
}
