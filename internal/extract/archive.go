package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
)

// Office documents are zip packages of XML parts. The helpers below read
// parts by name and pull text out of XML with tag patterns; full XML
// decoding is not needed to recover the text runs.

const maxPartBytes = 64 << 20

var anyTag = regexp.MustCompile(`<[^>]*>`)

func openZip(content []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("not a zip package: %w", err)
	}
	return zr, nil
}

func readPart(f *zip.File) (string, error) {
	return readPartLimit(f, maxPartBytes)
}

// readPartLimit reads a part whole. A part larger than limit is an error
// rather than a truncated read.
func readPartLimit(f *zip.File, limit int64) (string, error) {
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", f.Name, err)
	}
	if int64(len(data)) > limit {
		return "", fmt.Errorf("%w: part %s exceeds %d bytes", ErrCorrupt, f.Name, limit)
	}
	return string(data), nil
}

func findPart(zr *zip.Reader, name string) (string, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return readPart(f)
		}
	}
	return "", fmt.Errorf("%s not found", name)
}

// paragraphs returns the text of every block matched by block, with the
// inner runs matched by run concatenated. When run is nil all markup inside
// the block is stripped.
func paragraphs(xml string, block, run *regexp.Regexp) []string {
	var out []string
	for _, m := range block.FindAllStringSubmatch(xml, -1) {
		var text string
		if run == nil {
			text = anyTag.ReplaceAllString(m[1], "")
		} else {
			var b strings.Builder
			for _, r := range run.FindAllStringSubmatch(m[1], -1) {
				b.WriteString(r[1])
			}
			text = b.String()
		}
		text = strings.TrimSpace(html.UnescapeString(text))
		if text != "" {
			out = append(out, text)
		}
	}
	return out
}
