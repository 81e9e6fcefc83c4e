package feed

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"trimmed", "  hello\t", "hello"},
		{"whitespace only", "   ", ""},
		{"control chars", "he\x00l\x1blo\n", "hello"},
		{"invalid utf8", "\xff\xfe", ""},
		{"unicode kept", "héllo wörld", "héllo wörld"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestSanitizeTruncatesOnRuneBoundary(t *testing.T) {
	in := strings.Repeat("é", MaxMessageBytes)
	out := Sanitize(in)

	assert.LessOrEqual(t, len(out), MaxMessageBytes)
	assert.True(t, utf8.ValidString(out))
}

func TestAtTrailingEdge(t *testing.T) {
	tests := []struct {
		name                    string
		offset, visible, height int
		want                    bool
	}{
		{"exactly at edge", -500, 400, 900, true},
		{"one line short", -500, 400, 901, false},
		{"positive offset", 500, 400, 900, true},
		{"content fits", 0, 400, 300, true},
		{"newest end", 0, 400, 900, false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AtTrailingEdge(tt.offset, tt.visible, tt.height))
		})
	}
}
