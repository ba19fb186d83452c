package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/docrag/internal/models"
)

func sampleResult() *models.QueryResult {
	return &models.QueryResult{
		Answer:    "The sky is blue.",
		Model:     "phi",
		QueryTime: 12,
		Sources: []*models.Source{{
			Content:  "The sky is blue.",
			Metadata: models.SourceMetadata{DocumentID: 1, Filename: "sky.txt", Page: 1},
			Score:    0.93,
		}},
	}
}

func TestWriteQueryResult_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteQueryResult(&buf, sampleResult(), OutputJSON); err != nil {
		t.Fatalf("WriteQueryResult(json): %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	for _, key := range []string{"response", "source_documents"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("missing key %q in %s", key, buf.String())
		}
	}
}

func TestWriteQueryResult_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteQueryResult(&buf, sampleResult(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"The sky is blue.", "sky.txt", "p.1", "0.9300"} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteQueryResult_TextNoSources(t *testing.T) {
	var buf bytes.Buffer
	res := &models.QueryResult{Answer: "I don't know.", Sources: []*models.Source{}}
	if err := WriteQueryResult(&buf, res, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "no sources") {
		t.Errorf("expected no-sources note, got:\n%s", buf.String())
	}
}

func TestWriteDocuments(t *testing.T) {
	now := time.Now()
	docs := []*models.Document{
		{ID: 2, Filename: "b.pdf", Status: models.StatusFailed, Error: "parse: corrupt", CreatedAt: now, UpdatedAt: now},
		{ID: 1, Filename: "a.txt", Status: models.StatusCompleted, CreatedAt: now, UpdatedAt: now},
	}
	var buf bytes.Buffer
	if err := WriteDocuments(&buf, docs, OutputText); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[1], "failed") || !strings.Contains(lines[1], "parse: corrupt") {
		t.Errorf("row 1 = %q", lines[1])
	}

	buf.Reset()
	if err := WriteDocuments(&buf, nil, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Errorf("empty JSON list = %q, want []", buf.String())
	}
}

func TestWriteDocument(t *testing.T) {
	doc := &models.Document{ID: 7, Filename: "x.md", Status: models.StatusProcessing}
	var buf bytes.Buffer
	if err := WriteDocument(&buf, doc, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "processing") || strings.Contains(buf.String(), "error:") {
		t.Errorf("unexpected output:\n%s", buf.String())
	}
}

func TestParseFormat(t *testing.T) {
	if _, err := ParseFormat("yaml"); err == nil {
		t.Error("expected error for unknown format")
	}
	if f, err := ParseFormat("json"); err != nil || f != OutputJSON {
		t.Errorf("ParseFormat(json) = %q, %v", f, err)
	}
}
