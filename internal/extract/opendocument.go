package extract

import (
	"regexp"
	"strings"

	"github.com/hyperjump/docrag/internal/models"
)

const odfContentPath = "content.xml"

var (
	odfPage      = regexp.MustCompile(`(?s)<draw:page[\s>].*?</draw:page>`)
	odfTable     = regexp.MustCompile(`(?s)<table:table[\s>].*?</table:table>`)
	odfParagraph = regexp.MustCompile(`(?s)<text:[ph](?:\s[^>]*)?>(.*?)</text:[ph]>`)
)

func extractODF(content []byte, section *regexp.Regexp) ([]models.Page, error) {
	zr, err := openZip(content)
	if err != nil {
		return nil, err
	}
	xml, err := findPart(zr, odfContentPath)
	if err != nil {
		return nil, err
	}
	sections := section.FindAllString(xml, -1)
	if len(sections) == 0 {
		sections = []string{xml}
	}
	texts := make([]string, len(sections))
	for i, s := range sections {
		texts[i] = strings.Join(paragraphs(s, odfParagraph, nil), "\n")
	}
	return numberPages(texts), nil
}

// extractODP yields one page per presentation slide.
func extractODP(content []byte) ([]models.Page, error) {
	return extractODF(content, odfPage)
}

// extractODS yields one page per spreadsheet table.
func extractODS(content []byte) ([]models.Page, error) {
	return extractODF(content, odfTable)
}
