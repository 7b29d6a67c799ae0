package tui

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Sanitize makes runtime-provided text safe to print: invalid UTF-8 becomes
// U+FFFD and control characters other than newline, tab and carriage return
// are removed, so a message cannot inject escape sequences into the terminal.
func Sanitize(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}

	// Fast path: nothing to strip.
	clean := true
	for _, r := range s {
		if unicode.IsControl(r) && !isSafeControl(r) {
			clean = false
			break
		}
	}
	if clean {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if !unicode.IsControl(r) || isSafeControl(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isSafeControl(r rune) bool {
	return r == '\n' || r == '\t' || r == '\r'
}
