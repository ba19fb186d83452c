// Package cli renders query results and document records for the command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/hyperjump/docrag/internal/models"
	"github.com/hyperjump/docrag/pkg/utils"
)

// OutputFormat selects how results are written.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is the same JSON the HTTP API returns.
	OutputJSON OutputFormat = "json"
)

// ParseFormat validates a --format flag value.
func ParseFormat(v string) (OutputFormat, error) {
	switch OutputFormat(v) {
	case OutputText, OutputJSON:
		return OutputFormat(v), nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteQueryResult writes an answer and its sources.
func WriteQueryResult(w io.Writer, result *models.QueryResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, result)
	}
	fmt.Fprintf(w, "\n%s\n\n", strings.TrimSpace(result.Answer))
	if len(result.Sources) == 0 {
		fmt.Fprintf(w, "(no sources; answered in %dms)\n", result.QueryTime)
		return nil
	}
	fmt.Fprintf(w, "Sources (%d, answered in %dms by %s):\n", len(result.Sources), result.QueryTime, result.Model)
	for i, src := range result.Sources {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "[%d] %s p.%d chunk %d | score %.4f\n",
			i+1, src.Metadata.Filename, src.Metadata.Page, src.Metadata.ChunkIndex, src.Score)
		fmt.Fprintf(w, "%s\n", utils.Truncate(strings.Join(strings.Fields(src.Content), " "), 200))
	}
	return nil
}

// WriteDocument writes a single document record.
func WriteDocument(w io.Writer, doc *models.Document, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, doc)
	}
	fmt.Fprintf(w, "id:        %d\n", doc.ID)
	fmt.Fprintf(w, "filename:  %s\n", doc.Filename)
	fmt.Fprintf(w, "status:    %s\n", doc.Status)
	if doc.Error != "" {
		fmt.Fprintf(w, "error:     %s\n", doc.Error)
	}
	fmt.Fprintf(w, "created:   %s\n", doc.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "updated:   %s\n", doc.UpdatedAt.Format("2006-01-02 15:04:05"))
	return nil
}

// WriteDocuments writes document records as a table, or a JSON array.
func WriteDocuments(w io.Writer, docs []*models.Document, format OutputFormat) error {
	if format == OutputJSON {
		if docs == nil {
			docs = []*models.Document{}
		}
		return writeJSON(w, docs)
	}
	if len(docs) == 0 {
		fmt.Fprintln(w, "No documents.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tFILENAME\tERROR")
	for _, d := range docs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", d.ID, d.Status, d.Filename, utils.Truncate(d.Error, 60))
	}
	return tw.Flush()
}
