package extract

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"

	"github.com/hyperjump/docrag/internal/models"
)

func openPDF(content []byte) (r *pdf.Reader, err error) {
	// The pdf reader panics on some malformed cross-reference tables.
	defer func() {
		if p := recover(); p != nil {
			r, err = nil, fmt.Errorf("open PDF: %v", p)
		}
	}()
	r, err = pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	return r, nil
}

func countPDFPages(content []byte) (int, error) {
	r, err := openPDF(content)
	if err != nil {
		return 0, err
	}
	return r.NumPage(), nil
}

func extractPDF(content []byte) (pages []models.Page, err error) {
	r, err := openPDF(content)
	if err != nil {
		return nil, err
	}
	defer func() {
		if p := recover(); p != nil {
			pages, err = nil, fmt.Errorf("read PDF: %v", p)
		}
	}()

	n := r.NumPage()
	texts := make([]string, n)
	for i := 1; i <= n; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i, err)
		}
		texts[i-1] = text
	}
	return numberPages(texts), nil
}
