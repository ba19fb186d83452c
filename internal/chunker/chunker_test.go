package chunker

import (
	"math/rand"
	"slices"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hyperjump/docrag/internal/models"
)

func collect(c *Chunker, text string) []Span {
	return slices.Collect(c.Spans(text))
}

func TestNew_InvalidParameters(t *testing.T) {
	tests := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 0},
		{"negative overlap", 10, -1},
		{"overlap equals size", 10, 10},
		{"overlap larger than size", 10, 11},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.size, tt.overlap); err == nil {
				t.Errorf("New(%d, %d) expected error", tt.size, tt.overlap)
			}
		})
	}
}

func TestSpans_FixedWindows(t *testing.T) {
	c, err := New(4, 1)
	if err != nil {
		t.Fatal(err)
	}
	spans := collect(c, "abcdefghij")
	want := []string{"abcd", "defg", "ghij"}
	if len(spans) != len(want) {
		t.Fatalf("got %d spans, want %d", len(spans), len(want))
	}
	for i, s := range spans {
		if s.Text != want[i] {
			t.Errorf("span %d = %q, want %q", i, s.Text, want[i])
		}
		if s.Index != i {
			t.Errorf("span %d Index=%d", i, s.Index)
		}
		if i > 0 && s.Start != spans[i-1].End-1 {
			t.Errorf("span %d starts at %d, previous ends at %d", i, s.Start, spans[i-1].End)
		}
	}
}

func TestSpans_Empty(t *testing.T) {
	c, _ := New(5, 1)
	if spans := collect(c, ""); len(spans) != 0 {
		t.Errorf("empty text should yield no spans, got %v", spans)
	}
}

func TestSpans_Restartable(t *testing.T) {
	c, _ := New(7, 2, WithBoundaries(true))
	seq := c.Spans("The sky is blue. Grass is green. Water is wet.")
	first := slices.Collect(seq)
	second := slices.Collect(seq)
	if !slices.Equal(first, second) {
		t.Errorf("second iteration differs: %v vs %v", first, second)
	}
}

func TestSpans_EarlyStop(t *testing.T) {
	c, _ := New(3, 0)
	n := 0
	for range c.Spans("abcdefghijkl") {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Errorf("expected to stop after 2 spans, got %d", n)
	}
}

func TestSpans_BoundaryAware(t *testing.T) {
	c, _ := New(20, 4, WithBoundaries(true))
	text := "The sky is blue. Grass is green and tall."
	spans := collect(c, text)
	if spans[0].Text != "The sky is blue. " {
		t.Errorf("first span = %q, want sentence boundary", spans[0].Text)
	}
	if got := Reassemble(spans); got != text {
		t.Errorf("Reassemble = %q, want %q", got, text)
	}
}

func TestSpans_Unicode(t *testing.T) {
	c, _ := New(3, 1)
	text := "日本語のテキスト"
	spans := collect(c, text)
	for _, s := range spans {
		if utf8.RuneCountInString(s.Text) > 3 {
			t.Errorf("span %q longer than 3 runes", s.Text)
		}
	}
	if got := Reassemble(spans); got != text {
		t.Errorf("Reassemble = %q, want %q", got, text)
	}
}

// Coverage, bound and overlap must hold for arbitrary input.
func TestSpans_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	alphabet := []rune("abc de.f\n\nghé! ?世")
	for trial := 0; trial < 300; trial++ {
		size := 1 + rng.Intn(40)
		overlap := rng.Intn(size)
		length := rng.Intn(400)
		var b strings.Builder
		for i := 0; i < length; i++ {
			b.WriteRune(alphabet[rng.Intn(len(alphabet))])
		}
		text := b.String()

		for _, boundaries := range []bool{false, true} {
			c, err := New(size, overlap, WithBoundaries(boundaries))
			if err != nil {
				t.Fatal(err)
			}
			spans := collect(c, text)
			if got := Reassemble(spans); got != text {
				t.Fatalf("size=%d overlap=%d boundaries=%v: reassembled %q, want %q", size, overlap, boundaries, got, text)
			}
			for i, s := range spans {
				if s.Len() > size || utf8.RuneCountInString(s.Text) != s.Len() {
					t.Fatalf("span %d length %d exceeds %d", i, s.Len(), size)
				}
				if i > 0 && s.Start != spans[i-1].End-overlap {
					t.Fatalf("span %d starts at %d, want %d", i, s.Start, spans[i-1].End-overlap)
				}
				if !boundaries && i < len(spans)-1 && s.Len() != size {
					t.Fatalf("non-final span %d has length %d, want %d", i, s.Len(), size)
				}
			}
		}
	}
}

func TestPages(t *testing.T) {
	c, _ := New(10, 2)
	pages := []models.Page{
		{Number: 1, Text: "first page text here"},
		{Number: 2, Text: "   "},
		{Number: 3, Text: "third"},
	}
	chunks := slices.Collect(c.Pages(pages))
	if len(chunks) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.Index != i {
			t.Errorf("chunk %d Index=%d", i, ch.Index)
		}
		if ch.Page == 2 {
			t.Error("blank page should not produce chunks")
		}
	}
	last := chunks[len(chunks)-1]
	if last.Page != 3 || last.Text != "third" || last.Offset != 0 {
		t.Errorf("last chunk = %+v", last)
	}
}

func TestPreprocess(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  a  b  ", "a b"},
		{"a\r\nb", "a\nb"},
		{"a\n\n\n\nb", "a\n\nb"},
		{"a\x00b\tc", "ab c"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Preprocess(tt.in); got != tt.want {
			t.Errorf("Preprocess(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
