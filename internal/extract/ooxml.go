package extract

import (
	"archive/zip"
	"cmp"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/hyperjump/docrag/internal/models"
)

const (
	docxDefaultPath     = "word/document.xml"
	contentTypesPath    = "[Content_Types].xml"
	docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"
)

var (
	overrideTag = regexp.MustCompile(`<Override\b[^>]*>`)
	partNameRe  = regexp.MustCompile(`PartName="([^"]+)"`)

	wordParagraph = regexp.MustCompile(`(?s)<w:p(?:\s[^>]*)?>(.*?)</w:p>`)
	wordText      = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>`)

	drawingParagraph = regexp.MustCompile(`(?s)<a:p(?:\s[^>]*)?>(.*?)</a:p>`)
	drawingText      = regexp.MustCompile(`<a:t(?:\s[^>]*)?>([^<]*)</a:t>`)

	slidePart = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
)

// docxMainPath resolves the main document part from [Content_Types].xml,
// falling back to the conventional location.
func docxMainPath(zr *zip.Reader) string {
	types, err := findPart(zr, contentTypesPath)
	if err != nil {
		return docxDefaultPath
	}
	for _, tag := range overrideTag.FindAllString(types, -1) {
		if !strings.Contains(tag, `ContentType="`+docxMainContentType+`"`) {
			continue
		}
		if m := partNameRe.FindStringSubmatch(tag); m != nil {
			return strings.TrimPrefix(m[1], "/")
		}
	}
	return docxDefaultPath
}

// extractDOCX yields the whole document as one page, one line per paragraph.
func extractDOCX(content []byte) ([]models.Page, error) {
	zr, err := openZip(content)
	if err != nil {
		return nil, err
	}
	body, err := findPart(zr, docxMainPath(zr))
	if err != nil {
		return nil, err
	}
	text := strings.Join(paragraphs(body, wordParagraph, wordText), "\n")
	return numberPages([]string{text}), nil
}

// extractPPTX yields one page per slide in slide number order.
func extractPPTX(content []byte) ([]models.Page, error) {
	zr, err := openZip(content)
	if err != nil {
		return nil, err
	}
	type slide struct {
		n int
		f *zip.File
	}
	var slides []slide
	for _, f := range zr.File {
		m := slidePart.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		slides = append(slides, slide{n: n, f: f})
	}
	slices.SortFunc(slides, func(a, b slide) int { return cmp.Compare(a.n, b.n) })

	texts := make([]string, 0, len(slides))
	for _, s := range slides {
		xml, err := readPart(s.f)
		if err != nil {
			return nil, err
		}
		texts = append(texts, strings.Join(paragraphs(xml, drawingParagraph, drawingText), "\n"))
	}
	return numberPages(texts), nil
}
