package chunker

import (
	"strings"
	"unicode"
)

// Preprocess normalizes extracted text before chunking: line endings become
// \n, control characters are dropped, runs of horizontal whitespace collapse
// to one space and more than one blank line collapses to a single blank line.
func Preprocess(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	var b strings.Builder
	b.Grow(len(text))
	spaces, newlines := 0, 0
	for _, r := range strings.TrimSpace(text) {
		switch {
		case r == '\n':
			spaces = 0
			newlines++
			if newlines <= 2 {
				b.WriteRune('\n')
			}
		case unicode.IsSpace(r):
			if newlines == 0 && spaces == 0 {
				b.WriteRune(' ')
			}
			spaces++
		case unicode.IsControl(r) || r == unicode.ReplacementChar:
		default:
			b.WriteRune(r)
			spaces, newlines = 0, 0
		}
	}
	return b.String()
}
