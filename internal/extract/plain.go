package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hyperjump/docrag/internal/models"
)

// extractPlain splits text on form feeds into pages. Invalid UTF-8 is
// rejected rather than silently replaced.
func extractPlain(content []byte) ([]models.Page, error) {
	if !utf8.Valid(content) {
		return nil, fmt.Errorf("%w: text is not valid UTF-8", ErrCorrupt)
	}
	return numberPages(strings.Split(string(content), "\f")), nil
}
