package pathutil

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

const (
	// MaxNameLength is the longest sanitized name, in characters.
	MaxNameLength = 100
	// MaxNameBytes caps the UTF-8 size of a sanitized name. It leaves room
	// for the sequence prefix, the staging suffix and the extension under
	// the common 255-byte file name limit.
	MaxNameBytes = 200
)

// Sanitize turns s into a file or directory name. Letters, digits, space,
// underscore, hyphen and period are kept; any other character becomes an
// underscore. Runs of underscores and of spaces collapse to one, the result
// is cut to MaxNameLength characters or MaxNameBytes bytes, whichever comes
// first, on a character boundary, and stripped of outer underscores and
// spaces. Sanitize returns "" when nothing usable remains, including names
// made only of periods.
func Sanitize(s string) string {
	s = norm.NFC.String(strings.TrimSpace(s))

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if allowedRune(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}

	out := collapse(b.String(), "_")
	out = collapse(out, " ")

	out = truncateName(out)
	out = strings.Trim(out, "_ ")

	if strings.Trim(out, ".") == "" {
		return ""
	}
	return out
}

// SanitizeOr returns Sanitize(s), or fallback when that is empty.
func SanitizeOr(s, fallback string) string {
	if out := Sanitize(s); out != "" {
		return out
	}
	return fallback
}

// FallbackName is the artifact name used when a view's name sanitizes to nothing.
func FallbackName(viewID string) string {
	if id := Sanitize(viewID); id != "" {
		return "view_" + id + "_invalid_name"
	}
	return "view_invalid_name"
}

func truncateName(s string) string {
	n := 0
	for i, r := range s {
		if n == MaxNameLength || i+utf8.RuneLen(r) > MaxNameBytes {
			return s[:i]
		}
		n++
	}
	return s
}

func allowedRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', '_', '-', '.':
		return true
	}
	return false
}

// collapse drops empty pieces between separators, so runs shrink to one
// separator and leading or trailing separators disappear.
func collapse(s, sep string) string {
	parts := strings.Split(s, sep)
	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
