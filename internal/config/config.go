// Package config provides configuration loading and structs for the docrag server.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Vector    VectorConfig    `yaml:"vector"`
	LLM       LLMConfig       `yaml:"llm"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Query     QueryConfig     `yaml:"query"`
	Watch     WatchConfig     `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
}

// StorageConfig holds paths for the metadata database and spooled uploads.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	UploadDir    string `yaml:"upload_dir"`
}

// EmbeddingConfig selects and tunes the embedding backend.
type EmbeddingConfig struct {
	Provider   string        `yaml:"provider"` // hashing, onnx, ollama, openai
	ModelPath  string        `yaml:"model_path"`
	Model      string        `yaml:"model"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Dimensions int           `yaml:"dimensions"`
	MaxTokens  int           `yaml:"max_tokens"`
	CacheSize  int           `yaml:"cache_size"`
	Timeout    time.Duration `yaml:"timeout"`
}

// VectorConfig selects the vector index backend and its collection schema.
type VectorConfig struct {
	Backend    string        `yaml:"backend"` // memory, qdrant, pgvector
	Collection string        `yaml:"collection"`
	Distance   string        `yaml:"distance"`
	URL        string        `yaml:"url"`
	APIKey     string        `yaml:"api_key"`
	DSN        string        `yaml:"dsn"`
	Path       string        `yaml:"path"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LLMConfig selects the language model used to answer queries.
type LLMConfig struct {
	Provider    string        `yaml:"provider"` // ollama, openai
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	Temperature *float64      `yaml:"temperature"` // nil keeps the model default
	Timeout     time.Duration `yaml:"timeout"`
}

// IngestConfig holds chunking parameters, admission limits and worker settings.
type IngestConfig struct {
	ChunkSize           int           `yaml:"chunk_size"`
	ChunkOverlap        int           `yaml:"chunk_overlap"`
	BoundaryAware       *bool         `yaml:"boundary_aware"`
	MaxDocuments        int           `yaml:"max_documents"`
	MaxPagesPerDocument int           `yaml:"max_pages_per_document"`
	MaxDocumentBytes    int64         `yaml:"max_document_bytes"`
	MaxTotalDocuments   int           `yaml:"max_total_documents"`
	Extensions          []string      `yaml:"extensions"`
	Workers             int           `yaml:"workers"`
	QueueSize           int           `yaml:"queue_size"`
	StepTimeout         time.Duration `yaml:"step_timeout"`
	Async               bool          `yaml:"async"`
}

// BoundaryAwareOrDefault returns whether chunks may end at natural boundaries;
// defaults to true when unset.
func (c *IngestConfig) BoundaryAwareOrDefault() bool {
	if c.BoundaryAware != nil {
		return *c.BoundaryAware
	}
	return true
}

// QueryConfig holds retrieval settings.
type QueryConfig struct {
	TopK    int           `yaml:"top_k"`
	Timeout time.Duration `yaml:"timeout"`
}

// WatchConfig holds inbox directory watch settings.
type WatchConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Directories []string `yaml:"directories"`
	Recursive   *bool    `yaml:"recursive"`
}

// RecursiveOrDefault returns whether to watch recursively; defaults to true when unset.
func (w *WatchConfig) RecursiveOrDefault() bool {
	if w.Recursive != nil {
		return *w.Recursive
	}
	return true
}

// Default returns a configuration with environment overrides and every
// default applied, relative to the current directory.
func Default() *Config {
	cfg := &Config{}
	ApplyEnv(cfg)
	ApplyDefaults(cfg)
	dir, _ := os.Getwd()
	cfg.expandPaths(dir)
	return cfg
}

// Load reads and parses the config file at path, applies defaults and
// environment overrides, expands paths and validates the result.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	configDir := filepath.Dir(path)
	if err := LoadEnv(filepath.Join(configDir, ".env")); err != nil {
		return nil, err
	}
	ApplyEnv(&cfg)
	ApplyDefaults(&cfg)
	cfg.expandPaths(configDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadEnv loads variables from the given .env files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadEnv(paths ...string) error {
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// ApplyEnv overrides endpoints and secrets from the environment.
func ApplyEnv(cfg *Config) {
	setFromEnv(&cfg.Vector.URL, "DOCRAG_QDRANT_URL", "QDRANT_URL")
	setFromEnv(&cfg.Vector.APIKey, "DOCRAG_QDRANT_API_KEY", "QDRANT_API_KEY")
	setFromEnv(&cfg.Vector.DSN, "DOCRAG_DATABASE_URL", "DATABASE_URL")
	setFromEnv(&cfg.LLM.BaseURL, "DOCRAG_LLM_BASE_URL", "OLLAMA_BASE_URL")
	setFromEnv(&cfg.LLM.APIKey, "DOCRAG_LLM_API_KEY", "OPENAI_API_KEY")
	setFromEnv(&cfg.Embedding.APIKey, "DOCRAG_EMBEDDING_API_KEY", "OPENAI_API_KEY")
	setFromEnv(&cfg.Embedding.BaseURL, "DOCRAG_EMBEDDING_BASE_URL")
}

// setFromEnv assigns the first non-empty variable among keys to dst.
func setFromEnv(dst *string, keys ...string) {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			*dst = v
			return
		}
	}
}

func (c *Config) expandPaths(configDir string) {
	c.Storage.DatabasePath = expandPath(c.Storage.DatabasePath, configDir)
	c.Storage.UploadDir = expandPath(c.Storage.UploadDir, configDir)
	if c.Vector.Path != "" {
		c.Vector.Path = expandPath(c.Vector.Path, configDir)
	}
	if c.Embedding.ModelPath != "" {
		c.Embedding.ModelPath = expandPath(c.Embedding.ModelPath, configDir)
	}
	for i := range c.Watch.Directories {
		c.Watch.Directories[i] = expandPath(c.Watch.Directories[i], configDir)
	}
}

// Validate checks option ranges and backend names.
func (c *Config) Validate() error {
	in := c.Ingest
	if in.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size must be positive")
	}
	if in.ChunkOverlap < 0 || in.ChunkOverlap >= in.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap must be in [0, chunk_size)")
	}
	if in.MaxDocuments <= 0 || in.MaxPagesPerDocument <= 0 || in.MaxDocumentBytes <= 0 {
		return fmt.Errorf("ingest limits must be positive")
	}
	if c.Query.TopK <= 0 {
		return fmt.Errorf("query.top_k must be positive")
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive")
	}
	if err := oneOf("embedding.provider", c.Embedding.Provider, "hashing", "onnx", "ollama", "openai"); err != nil {
		return err
	}
	if err := oneOf("vector.backend", c.Vector.Backend, "memory", "qdrant", "pgvector"); err != nil {
		return err
	}
	if err := oneOf("vector.distance", c.Vector.Distance, "cosine"); err != nil {
		return err
	}
	if err := oneOf("llm.provider", c.LLM.Provider, "ollama", "openai"); err != nil {
		return err
	}
	if t := c.LLM.Temperature; t != nil && (*t < 0 || *t > 2) {
		return fmt.Errorf("llm.temperature must be between 0 and 2, got %g", *t)
	}
	if c.Vector.Backend == "pgvector" && c.Vector.DSN == "" {
		return fmt.Errorf("vector.dsn is required for the pgvector backend")
	}
	return nil
}

func oneOf(field, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", field, strings.Join(allowed, ", "), value)
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" is the home directory; other relative paths are relative to configDir.
func expandPath(path string, configDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return filepath.Join(configDir, path)
}
