package tgui

import (
	"strings"
	"unicode"
)

// Clip returns s collapsed to single spaces and cut to at most n runes,
// with "…" as the last rune when cut.
func Clip(s string, n int) string {
	s = strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
