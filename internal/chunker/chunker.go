// Package chunker splits document text into overlapping, size-bounded spans.
package chunker

import (
	"fmt"
	"iter"
	"strings"
	"unicode"

	"github.com/hyperjump/docrag/internal/models"
)

// Span is one chunk of a text. Start and End are rune offsets into the
// chunked text, End exclusive.
type Span struct {
	Index int
	Start int
	End   int
	Text  string
}

// Len returns the span length in runes.
func (s Span) Len() int { return s.End - s.Start }

// Chunker splits text into windows of at most size runes where each window
// after the first starts overlap runes before the end of the previous one.
type Chunker struct {
	size       int
	overlap    int
	boundaries bool
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithBoundaries lets a window end early at a paragraph, sentence or word
// boundary instead of cutting mid-word.
func WithBoundaries(enabled bool) Option {
	return func(c *Chunker) {
		c.boundaries = enabled
	}
}

// New creates a chunker. It requires 0 <= overlap < size.
func New(size, overlap int, opts ...Option) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	c := &Chunker{size: size, overlap: overlap}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Size returns the maximum span length in runes.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the number of runes shared by consecutive spans.
func (c *Chunker) Overlap() int { return c.overlap }

// Spans returns a lazy sequence of spans over text. The sequence can be
// ranged over any number of times. Empty text yields nothing.
func (c *Chunker) Spans(text string) iter.Seq[Span] {
	return func(yield func(Span) bool) {
		runes := []rune(text)
		n := len(runes)
		start, index := 0, 0
		for start < n {
			end := min(start+c.size, n)
			if end < n && c.boundaries {
				if b := c.boundary(runes, start, end); b > 0 {
					end = b
				}
			}
			if !yield(Span{Index: index, Start: start, End: end, Text: string(runes[start:end])}) {
				return
			}
			if end == n {
				return
			}
			index++
			start = end - c.overlap
		}
	}
}

// boundary finds a cut point in (start, end] that keeps the span longer
// than the overlap, preferring paragraph breaks, then sentence ends, then
// whitespace. It returns 0 when the window has no usable boundary.
func (c *Chunker) boundary(runes []rune, start, end int) int {
	lo := start + max(c.overlap+1, c.size/2)
	if lo > end {
		return 0
	}
	for _, match := range []func([]rune, int) bool{isParagraphBreak, isSentenceEnd, isWordBreak} {
		if i := lastCut(runes, lo, end, match); i > 0 {
			return i
		}
	}
	return 0
}

func lastCut(runes []rune, lo, hi int, match func([]rune, int) bool) int {
	for i := hi; i >= lo; i-- {
		if match(runes, i) {
			return i
		}
	}
	return 0
}

// isParagraphBreak reports whether position i directly follows a blank line.
func isParagraphBreak(runes []rune, i int) bool {
	return i >= 2 && runes[i-1] == '\n' && runes[i-2] == '\n'
}

// isSentenceEnd reports whether position i directly follows terminal
// punctuation and one whitespace rune.
func isSentenceEnd(runes []rune, i int) bool {
	if i < 2 || !unicode.IsSpace(runes[i-1]) {
		return false
	}
	switch runes[i-2] {
	case '.', '!', '?', '。':
		return true
	}
	return false
}

func isWordBreak(runes []rune, i int) bool {
	return i >= 1 && unicode.IsSpace(runes[i-1])
}

// Pages chunks every page independently and numbers chunks across the
// whole document in reading order. Blank pages produce no chunks.
func (c *Chunker) Pages(pages []models.Page) iter.Seq[models.Chunk] {
	return func(yield func(models.Chunk) bool) {
		index := 0
		for _, p := range pages {
			if strings.TrimSpace(p.Text) == "" {
				continue
			}
			for s := range c.Spans(p.Text) {
				ch := models.Chunk{Index: index, Page: p.Number, Offset: s.Start, Text: s.Text}
				if !yield(ch) {
					return
				}
				index++
			}
		}
	}
}

// Reassemble concatenates span texts, dropping the region each span
// shares with its predecessor.
func Reassemble(spans []Span) string {
	var b strings.Builder
	prevEnd := 0
	for _, s := range spans {
		r := []rune(s.Text)
		skip := max(prevEnd-s.Start, 0)
		if skip < len(r) {
			b.WriteString(string(r[skip:]))
		}
		prevEnd = s.End
	}
	return b.String()
}
