package game

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const MaxNameLen = 20

// SanitizeName normalizes a display name to NFC, trims surrounding space and
// truncates it to MaxNameLen characters. An empty result means the name is
// unusable.
func SanitizeName(name string) string {
	name = strings.TrimSpace(norm.NFC.String(name))
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)

	runes := []rune(name)
	if len(runes) > MaxNameLen {
		runes = runes[:MaxNameLen]
	}
	// Truncation can expose trailing space again.
	return strings.TrimSpace(string(runes))
}
