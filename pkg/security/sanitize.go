// Package security normalizes untrusted webhook input before it reaches the
// store or the model.
package security

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxMessageRunes caps one inbound chat message. Anything longer is truncated,
// not rejected; users paste itineraries.
const MaxMessageRunes = 4000

// SanitizeText strips null bytes and control characters (newlines and tabs
// survive), trims whitespace and truncates to MaxMessageRunes.
func SanitizeText(input string) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range input {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if r == utf8.RuneError || unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return Truncate(strings.TrimSpace(b.String()), MaxMessageRunes)
}

// SanitizePhone keeps digits only. Provider payloads carry phones in E.164
// without the plus; anything else in the field is noise.
func SanitizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Truncate cuts a string to at most maxRunes runes.
func Truncate(input string, maxRunes int) string {
	if maxRunes <= 0 || utf8.RuneCountInString(input) <= maxRunes {
		return input
	}
	runes := []rune(input)
	return string(runes[:maxRunes])
}
