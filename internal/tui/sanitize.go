package tui

import (
	"strings"
	"unicode/utf8"
)

// sanitizeForTerminal strips codepoints that break tcell's width math:
// skin tone modifiers, zero width joiners and variation selectors.
func sanitizeForTerminal(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !problematicRune(r) {
			b.WriteRune(r)
		}
		i += size
	}
	return b.String()
}

func problematicRune(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF:
		return true
	case r == 0x200D:
		return true
	case r >= 0xFE00 && r <= 0xFE0F:
		return true
	case r >= 0xE0100 && r <= 0xE01EF:
		return true
	default:
		return false
	}
}
