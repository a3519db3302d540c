package bridge

import (
	"strings"
	"unicode"
)

// isSpace matches Unicode whitespace plus the ASCII separators 0x1C-0x1F,
// which many regex engines also treat as whitespace.
func isSpace(r rune) bool {
	return unicode.IsSpace(r) || (r >= 0x1C && r <= 0x1F)
}

func isControl(r rune) bool {
	return r <= 0x1F || r == 0x7F
}

// Clean normalizes inbound message text: control characters are removed, every
// run of whitespace becomes a single space, and the result is trimmed.
// Whitespace control characters (tab, newline, ...) count as whitespace, not as
// characters to drop. Clean is idempotent.
func Clean(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		switch {
		case isSpace(r):
			pendingSpace = b.Len() > 0
		case isControl(r):
			// dropped without a trace, so "a\x00b" becomes "ab"
		default:
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}
