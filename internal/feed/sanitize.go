package feed

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxMessageBytes caps a sanitized message body.
const MaxMessageBytes = 4096

// Sanitize trims s, drops invalid UTF-8 and control characters, and limits
// the result to MaxMessageBytes without splitting a rune.
func Sanitize(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.TrimSpace(s)

	if len(s) > MaxMessageBytes {
		cut := MaxMessageBytes
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = strings.TrimSpace(s[:cut])
	}
	return s
}

// AtTrailingEdge reports whether a reverse-rendered list has been scrolled
// to its oldest end. scrollOffset is zero at the newest end and grows
// negative towards older content.
func AtTrailingEdge(scrollOffset, visibleHeight, contentHeight int) bool {
	if scrollOffset < 0 {
		scrollOffset = -scrollOffset
	}
	return scrollOffset+visibleHeight >= contentHeight
}
