package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 5 * time.Minute
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = 256 << 20
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "./data/documents.db"
	}
	if cfg.Storage.UploadDir == "" {
		cfg.Storage.UploadDir = "./temp_uploads"
	}

	if cfg.Embedding.Provider == "" {
		cfg.Embedding.Provider = "hashing"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Embedding.Timeout == 0 {
		cfg.Embedding.Timeout = 30 * time.Second
	}
	if cfg.Embedding.Model == "" {
		switch cfg.Embedding.Provider {
		case "ollama":
			cfg.Embedding.Model = "all-minilm"
		case "openai":
			cfg.Embedding.Model = "text-embedding-3-small"
		}
	}

	if cfg.Vector.Backend == "" {
		cfg.Vector.Backend = "memory"
	}
	if cfg.Vector.Collection == "" {
		cfg.Vector.Collection = "rag_documents"
	}
	if cfg.Vector.Distance == "" {
		cfg.Vector.Distance = "cosine"
	}
	if cfg.Vector.URL == "" && cfg.Vector.Backend == "qdrant" {
		cfg.Vector.URL = "http://localhost:6333"
	}
	if cfg.Vector.Path == "" && cfg.Vector.Backend == "memory" {
		cfg.Vector.Path = "./data/vectors.idx"
	}
	if cfg.Vector.Timeout == 0 {
		cfg.Vector.Timeout = 10 * time.Second
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "ollama"
	}
	if cfg.LLM.BaseURL == "" && cfg.LLM.Provider == "ollama" {
		cfg.LLM.BaseURL = "http://localhost:11434"
	}
	if cfg.LLM.Model == "" {
		switch cfg.LLM.Provider {
		case "openai":
			cfg.LLM.Model = "gpt-4o-mini"
		default:
			cfg.LLM.Model = "phi"
		}
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 60 * time.Second
	}

	// Overlap 0 is a valid choice, so it is only defaulted together with the size.
	if cfg.Ingest.ChunkSize == 0 {
		cfg.Ingest.ChunkSize = 1000
		if cfg.Ingest.ChunkOverlap == 0 {
			cfg.Ingest.ChunkOverlap = 200
		}
	}
	if cfg.Ingest.MaxDocuments == 0 {
		cfg.Ingest.MaxDocuments = 20
	}
	if cfg.Ingest.MaxPagesPerDocument == 0 {
		cfg.Ingest.MaxPagesPerDocument = 1000
	}
	if cfg.Ingest.MaxDocumentBytes == 0 {
		cfg.Ingest.MaxDocumentBytes = 50 << 20
	}
	if cfg.Ingest.Extensions == nil {
		cfg.Ingest.Extensions = []string{".txt", ".md", ".pdf", ".docx", ".xlsx", ".pptx", ".odp", ".ods"}
	}
	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Ingest.QueueSize == 0 {
		cfg.Ingest.QueueSize = 64
	}
	if cfg.Ingest.StepTimeout == 0 {
		cfg.Ingest.StepTimeout = 60 * time.Second
	}

	if cfg.Query.TopK == 0 {
		cfg.Query.TopK = 3
	}
	if cfg.Query.Timeout == 0 {
		cfg.Query.Timeout = 90 * time.Second
	}
}
