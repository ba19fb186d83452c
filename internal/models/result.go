package models

// SourceMetadata attributes a source chunk back to its document.
type SourceMetadata struct {
	DocumentID int64  `json:"document_id"`
	Filename   string `json:"filename"`
	Page       int    `json:"page"`
	ChunkIndex int    `json:"chunk_index"`
	Offset     int    `json:"offset"`
}

// Source is a retrieved chunk that was placed in the prompt context.
type Source struct {
	Content  string         `json:"content"`
	Metadata SourceMetadata `json:"metadata"`
	Score    float64        `json:"score"`
}

// QueryResult is the answer to one query paired with the evidence used.
// Sources are ordered by descending similarity.
type QueryResult struct {
	Answer    string    `json:"response"`
	Sources   []*Source `json:"source_documents"`
	Model     string    `json:"model,omitempty"`
	QueryTime int64     `json:"query_time_ms"`
}
