// Package extract turns uploaded files into page-level plain text.
package extract

import (
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/hyperjump/docrag/internal/models"
)

var (
	// ErrUnsupported is returned for file types no extractor handles.
	ErrUnsupported = errors.New("unsupported document type")
	// ErrCorrupt is returned when a file of a supported type cannot be parsed.
	ErrCorrupt = errors.New("corrupt or unreadable document")
)

type extractFunc func(content []byte) ([]models.Page, error)

var extractors = map[string]extractFunc{
	".pdf":  extractPDF,
	".txt":  extractPlain,
	".md":   extractPlain,
	".docx": extractDOCX,
	".pptx": extractPPTX,
	".xlsx": extractXLSX,
	".odp":  extractODP,
	".ods":  extractODS,
}

// Extractor extracts page text from document bytes based on the file extension.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extensions lists the supported extensions in sorted order.
func Extensions() []string {
	exts := make([]string, 0, len(extractors))
	for ext := range extractors {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// Supported reports whether filename has an extension the extractor handles.
func (e *Extractor) Supported(filename string) bool {
	_, ok := extractors[Ext(filename)]
	return ok
}

// Extract returns the pages of the document. Page numbers start at 1 and
// follow the source order (PDF page, slide, sheet). Formats without a page
// notion yield a single page.
func (e *Extractor) Extract(filename string, content []byte) ([]models.Page, error) {
	ext := Ext(filename)
	fn, ok := extractors[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	pages, err := fn(content)
	if err != nil {
		if errors.Is(err, ErrCorrupt) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrCorrupt, filename, err)
	}
	return pages, nil
}

// PageCount returns the number of pages Extract would produce. For PDF it
// reads only the page tree.
func (e *Extractor) PageCount(filename string, content []byte) (int, error) {
	if Ext(filename) == ".pdf" {
		n, err := countPDFPages(content)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %w", ErrCorrupt, filename, err)
		}
		return n, nil
	}
	pages, err := e.Extract(filename, content)
	if err != nil {
		return 0, err
	}
	return len(pages), nil
}

// Ext returns the lower-cased extension of filename including the dot.
func Ext(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

func numberPages(texts []string) []models.Page {
	pages := make([]models.Page, len(texts))
	for i, t := range texts {
		pages[i] = models.Page{Number: i + 1, Text: t}
	}
	return pages
}
