package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "test.db"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath != filepath.Join(filepath.Dir(path), "test.db") {
		t.Errorf("database_path = %s", cfg.Storage.DatabasePath)
	}
	if cfg.Debug {
		t.Error("debug should default to false when unset")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "debug: true\n"))
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Debug {
		t.Error("debug should be true when set in config")
	}
	if cfg.Ingest.ChunkSize != 1000 || cfg.Ingest.ChunkOverlap != 200 {
		t.Errorf("chunking defaults = %d/%d", cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	}
	if cfg.Query.TopK != 3 {
		t.Errorf("top_k = %d, want 3", cfg.Query.TopK)
	}
	if cfg.Ingest.MaxDocuments != 20 || cfg.Ingest.MaxPagesPerDocument != 1000 {
		t.Errorf("limits = %d/%d", cfg.Ingest.MaxDocuments, cfg.Ingest.MaxPagesPerDocument)
	}
	if cfg.Vector.Collection != "rag_documents" || cfg.Vector.Distance != "cosine" {
		t.Errorf("vector defaults = %+v", cfg.Vector)
	}
	if cfg.Embedding.Dimensions != 384 {
		t.Errorf("dimensions = %d", cfg.Embedding.Dimensions)
	}
	if cfg.LLM.Provider != "ollama" || cfg.LLM.Model != "phi" {
		t.Errorf("llm defaults = %+v", cfg.LLM)
	}
	if !cfg.Ingest.BoundaryAwareOrDefault() {
		t.Error("boundary-aware chunking should default to true")
	}
	if cfg.LLM.Temperature != nil {
		t.Errorf("temperature = %v, want unset", *cfg.LLM.Temperature)
	}
}

func TestLoad_ZeroTemperature(t *testing.T) {
	cfg, err := Load(writeConfig(t, "llm:\n  temperature: 0\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.Temperature == nil || *cfg.LLM.Temperature != 0 {
		t.Errorf("temperature = %v, want explicit 0", cfg.LLM.Temperature)
	}
}

func TestLoad_Durations(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
ingest:
  step_timeout: 5s
query:
  timeout: 2m
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ingest.StepTimeout != 5*time.Second {
		t.Errorf("step_timeout = %v", cfg.Ingest.StepTimeout)
	}
	if cfg.Query.Timeout != 2*time.Minute {
		t.Errorf("query timeout = %v", cfg.Query.Timeout)
	}
}

func TestLoad_ZeroOverlapKept(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
ingest:
  chunk_size: 500
  chunk_overlap: 0
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Ingest.ChunkOverlap != 0 {
		t.Errorf("overlap = %d, want 0", cfg.Ingest.ChunkOverlap)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"overlap not below size", "ingest:\n  chunk_size: 100\n  chunk_overlap: 100\n"},
		{"unknown backend", "vector:\n  backend: faiss\n"},
		{"unknown distance", "vector:\n  distance: euclid\n"},
		{"pgvector without dsn", "vector:\n  backend: pgvector\n"},
		{"unknown llm", "llm:\n  provider: nope\n"},
		{"negative temperature", "llm:\n  temperature: -0.5\n"},
		{"bad yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("DATABASE_URL", "")
			t.Setenv("DOCRAG_DATABASE_URL", "")
			if _, err := Load(writeConfig(t, tt.content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("QDRANT_URL", "http://qdrant:6333")
	t.Setenv("QDRANT_API_KEY", "secret")
	t.Setenv("DOCRAG_QDRANT_URL", "")
	t.Setenv("DOCRAG_QDRANT_API_KEY", "")
	cfg, err := Load(writeConfig(t, "vector:\n  backend: qdrant\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Vector.URL != "http://qdrant:6333" || cfg.Vector.APIKey != "secret" {
		t.Errorf("vector = %+v", cfg.Vector)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	path := writeConfig(t, "llm:\n  provider: ollama\n")
	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := os.WriteFile(envPath, []byte("DOCRAG_LLM_BASE_URL=http://ollama:11434\n"), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOCRAG_LLM_BASE_URL", "")
	os.Unsetenv("DOCRAG_LLM_BASE_URL")
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LLM.BaseURL != "http://ollama:11434" {
		t.Errorf("base_url = %s", cfg.LLM.BaseURL)
	}
}

func TestExpandPath(t *testing.T) {
	dir := t.TempDir()
	if got := expandPath("./data/x.db", dir); got != filepath.Join(dir, "data", "x.db") {
		t.Errorf("dot-slash: %s", got)
	}
	if got := expandPath("/abs/x.db", dir); got != "/abs/x.db" {
		t.Errorf("absolute: %s", got)
	}
	if got := expandPath("", dir); got != "" {
		t.Errorf("empty: %s", got)
	}
	if home, err := os.UserHomeDir(); err == nil {
		if got := expandPath("~/x.db", dir); got != filepath.Join(home, "x.db") {
			t.Errorf("home: %s", got)
		}
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := Default()
	cfg.Query.TopK = 7
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Query.TopK != 7 {
		t.Errorf("top_k = %d", loaded.Query.TopK)
	}
}
