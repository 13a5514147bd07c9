package xstring

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// ToFileName converts an arbitrary identifier (e.g. a meeting ID) into a
// string safe to use as a file name: accents are stripped and everything
// except ASCII letters, digits, '-', '_' and '.' becomes '_'.
func ToFileName(s string) string {
	var b strings.Builder
	for _, r := range norm.NFKD.String(s) {
		switch {
		case unicode.Is(unicode.Mn, r):
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	result := strings.Trim(b.String(), ".")
	if result == "" {
		return "_"
	}
	return result
}
