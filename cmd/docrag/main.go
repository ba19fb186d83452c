// Package main is the docrag CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/docrag/internal/chunker"
	"github.com/hyperjump/docrag/internal/cli"
	"github.com/hyperjump/docrag/internal/config"
	"github.com/hyperjump/docrag/internal/embedding"
	"github.com/hyperjump/docrag/internal/extract"
	"github.com/hyperjump/docrag/internal/ingest"
	"github.com/hyperjump/docrag/internal/llm"
	"github.com/hyperjump/docrag/internal/models"
	"github.com/hyperjump/docrag/internal/rag"
	"github.com/hyperjump/docrag/internal/server"
	"github.com/hyperjump/docrag/internal/storage"
	"github.com/hyperjump/docrag/internal/vector"
	"github.com/hyperjump/docrag/internal/watcher"
	"github.com/hyperjump/docrag/pkg/utils"
)

var version = "dev"

const (
	defaultConfigPath = "config.yaml"
	shutdownTimeout   = 30 * time.Second
)

// loadConfig loads the config file at path. A missing default config file
// is not an error: defaults and environment overrides are used instead.
// Returns the config and a description of where it came from.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			if err := config.LoadEnv(".env"); err != nil {
				return nil, "", err
			}
			cfg := config.Default()
			if err := cfg.Validate(); err != nil {
				return nil, "", err
			}
			return cfg, "(defaults)", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	var err error
	switch command {
	case "server":
		err = runServer(args)
	case "ingest":
		err = runIngest(args)
	case "query":
		err = runQuery(args)
	case "status":
		err = runStatus(args)
	case "list":
		err = runList(args)
	case "watch":
		err = runWatch(args)
	case "version", "--version", "-v":
		fmt.Printf("docrag version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", command, err)
		os.Exit(1)
	}
}

// components is the wired application. Every collaborator is created here
// and passed explicitly to the parts that use it.
type components struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     *storage.SQLiteStore
	embedder  embedding.Embedder
	index     vector.Index
	generator llm.Generator
	pipeline  *ingest.Pipeline
	engine    *rag.Engine
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*components, error) {
	c := &components{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DatabasePath), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	c.store = store

	c.embedder, err = embedding.New(cfg.Embedding, logger)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}

	c.index, err = vector.New(ctx, cfg.Vector)
	if err != nil {
		return nil, fmt.Errorf("create vector index: %w", err)
	}
	schema := vector.SchemaFrom(cfg.Vector, c.embedder.Dimensions())
	if err := c.index.EnsureCollection(ctx, schema); err != nil {
		return nil, fmt.Errorf("ensure collection %q: %w", schema.Collection, err)
	}

	ch, err := chunker.New(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap,
		chunker.WithBoundaries(cfg.Ingest.BoundaryAwareOrDefault()))
	if err != nil {
		return nil, err
	}
	c.pipeline, err = ingest.New(ingest.Deps{
		Store:    c.store,
		Parser:   extract.NewExtractor(),
		Chunker:  ch,
		Embedder: c.embedder,
		Index:    c.index,
	}, ingest.OptionsFrom(cfg.Ingest, cfg.Storage.UploadDir), ingest.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	c.generator, err = llm.New(cfg.LLM, logger)
	if err != nil {
		return nil, fmt.Errorf("create language model client: %w", err)
	}
	c.engine, err = rag.NewEngine(rag.Deps{
		Embedder:  c.embedder,
		Index:     c.index,
		Statuses:  c.store,
		Generator: c.generator,
	}, rag.WithTopK(cfg.Query.TopK), rag.WithTimeout(cfg.Query.Timeout), rag.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	logger.Info("components initialized",
		zap.String("embedding", cfg.Embedding.Provider),
		zap.Int("dimensions", c.embedder.Dimensions()),
		zap.String("vector_backend", cfg.Vector.Backend),
		zap.String("collection", schema.Collection),
		zap.String("llm", c.generator.Model()),
	)
	ok = true
	return c, nil
}

// Close releases resources. Closing a memory index flushes its snapshot
// and releases the snapshot lock.
func (c *components) Close() {
	if c.index != nil {
		if err := c.index.Close(); err != nil {
			c.logger.Warn("vector index close failed", zap.String("backend", c.cfg.Vector.Backend), zap.Error(err))
		}
	}
	if c.embedder != nil {
		_ = c.embedder.Close()
	}
	if c.store != nil {
		_ = c.store.Close()
	}
}

func (c *components) statusInfo() server.StatusInfo {
	cfg := c.cfg
	return server.StatusInfo{
		Version:             version,
		EmbeddingProvider:   cfg.Embedding.Provider,
		EmbeddingDimensions: c.embedder.Dimensions(),
		VectorBackend:       cfg.Vector.Backend,
		Collection:          cfg.Vector.Collection,
		LLMModel:            c.generator.Model(),
		ChunkSize:           cfg.Ingest.ChunkSize,
		ChunkOverlap:        cfg.Ingest.ChunkOverlap,
		TopK:                cfg.Query.TopK,
		Async:               cfg.Ingest.Async,
		DiskPaths:           slices.DeleteFunc([]string{cfg.Storage.DatabasePath, cfg.Vector.Path}, func(p string) bool { return p == "" }),
	}
}

// inbox wires an inbox watcher to the ingestion pipeline.
func (c *components) inbox(dirs []string, recursive bool) *watcher.Inbox {
	handle := func(ctx context.Context, path string) error {
		doc, err := c.pipeline.IngestFile(ctx, path)
		if ingest.IsValidation(err) {
			return watcher.Permanent(err)
		}
		if err != nil {
			return err
		}
		c.logger.Info("inbox file ingested", zap.String("path", path), zap.Int64("document_id", doc.ID))
		return nil
	}
	return watcher.New(dirs, handle,
		watcher.WithFilter(c.pipeline.Accepts),
		watcher.WithRecursive(recursive),
		watcher.WithInitialScan(true),
		watcher.WithLogger(c.logger),
	)
}

// setup loads config, creates the logger and wires all components.
func setup(ctx context.Context, configPath string, debug bool) (*components, error) {
	cfg, source, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug || debug)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	logger.Debug("config loaded", zap.String("source", source))
	return initializeComponents(ctx, cfg, logger)
}

func runServer(args []string) error {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	async := fs.Bool("async", false, "process uploads in the background and answer 202 Accepted")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := setup(ctx, *configPath, *debug)
	if err != nil {
		return err
	}
	defer c.Close()
	defer func() { _ = c.logger.Sync() }()
	if *async {
		c.cfg.Ingest.Async = true
	}

	if n, err := c.store.RecoverStale(ctx); err != nil {
		return fmt.Errorf("recover interrupted documents: %w", err)
	} else if n > 0 {
		c.logger.Warn("marked interrupted documents as failed", zap.Int("documents", n))
	}
	c.pipeline.Start()

	var inbox *watcher.Inbox
	if c.cfg.Watch.Enabled && len(c.cfg.Watch.Directories) > 0 {
		inbox = c.inbox(c.cfg.Watch.Directories, c.cfg.Watch.RecursiveOrDefault())
		if err := inbox.Start(ctx); err != nil {
			return fmt.Errorf("start inbox watcher: %w", err)
		}
	}

	srv := server.NewServer(server.Deps{
		Ingester:  c.pipeline,
		Querier:   c.engine,
		Documents: c.store,
		Index:     c.index,
	}, &c.cfg.Server, c.statusInfo(), c.logger)

	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}

	c.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		c.logger.Warn("http shutdown", zap.Error(err))
	}
	if inbox != nil {
		inbox.Stop()
	}
	if err := c.pipeline.Shutdown(shutdownCtx); err != nil {
		c.logger.Warn("ingest shutdown", zap.Error(err))
	}
	return serveErr
}

func runIngest(args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	format := fs.String("format", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: docrag ingest [flags] <file-or-directory>...\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("no files given")
	}
	outFormat, err := cli.ParseFormat(*format)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	c, err := setup(ctx, *configPath, false)
	if err != nil {
		return err
	}
	defer c.Close()

	paths, err := collectFiles(fs.Args(), c.pipeline.Accepts)
	if err != nil {
		return err
	}
	uploads := make([]models.Upload, 0, len(paths))
	for _, p := range paths {
		content, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		uploads = append(uploads, models.Upload{Filename: filepath.Base(p), Content: content})
	}
	outcomes, err := c.pipeline.IngestBatch(ctx, uploads)
	if err != nil {
		return err
	}

	var docs []*models.Document
	failed := 0
	for _, o := range outcomes {
		if o.Document != nil {
			docs = append(docs, o.Document)
		}
		if o.Err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %v\n", o.Filename, o.Err)
		}
	}
	if err := cli.WriteDocuments(os.Stdout, docs, outFormat); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(outcomes))
	}
	return nil
}

// collectFiles expands directories into the accepted files they contain.
// Files named explicitly are passed through for admission to judge.
func collectFiles(args []string, accept func(string) bool) ([]string, error) {
	var out []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && accept(path) {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func runQuery(args []string) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = answer locally)")
	format := fs.String("format", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: docrag query [flags] <question>\n\n")
		fmt.Fprintf(fs.Output(), "The question is all remaining arguments joined by spaces.\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(args))
	question := joinArgs(fs.Args())
	if question == "" {
		fs.Usage()
		return errors.New("no question given")
	}
	outFormat, err := cli.ParseFormat(*format)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var result *models.QueryResult
	if *serverURL != "" {
		result, err = newAPIClient(*serverURL).Query(ctx, question)
	} else {
		var c *components
		c, err = setup(ctx, *configPath, false)
		if err != nil {
			return err
		}
		defer c.Close()
		result, err = c.engine.Query(ctx, question)
	}
	if err != nil {
		return err
	}
	return cli.WriteQueryResult(os.Stdout, result, outFormat)
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read local storage)")
	format := fs.String("format", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: docrag status [flags] [document-id]\n\n")
		fmt.Fprintf(fs.Output(), "With an id, prints that document's processing status; otherwise a summary.\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(args))
	outFormat, err := cli.ParseFormat(*format)
	if err != nil {
		return err
	}
	ctx := context.Background()

	if fs.NArg() > 0 {
		id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid document id %q", fs.Arg(0))
		}
		var doc *models.Document
		if *serverURL != "" {
			doc, err = newAPIClient(*serverURL).Document(ctx, id)
		} else {
			doc, err = withStore(*configPath, func(s *storage.SQLiteStore) (*models.Document, error) {
				return s.GetByID(ctx, id)
			})
		}
		if err != nil {
			return err
		}
		return cli.WriteDocument(os.Stdout, doc, outFormat)
	}

	var summary map[string]any
	if *serverURL != "" {
		summary, err = newAPIClient(*serverURL).Status(ctx)
	} else {
		summary, err = withStore(*configPath, func(s *storage.SQLiteStore) (map[string]any, error) {
			n, err := s.CountAll(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]any{"documents": n}, nil
		})
	}
	if err != nil {
		return err
	}
	return writeSummary(summary, outFormat)
}

func writeSummary(summary map[string]any, format cli.OutputFormat) error {
	if format == cli.OutputJSON {
		return writeJSON(os.Stdout, summary)
	}
	for _, key := range []string{"documents", "pending", "vector_entries", "disk_usage_bytes"} {
		if v, ok := summary[key]; ok {
			fmt.Printf("%-18s %v\n", key+":", v)
		}
	}
	if cfg, ok := summary["config"].(map[string]any); ok {
		fmt.Println()
		fmt.Println("# configuration")
		for _, key := range []string{"embedding_provider", "embedding_dimensions", "vector_backend", "collection", "llm_model", "chunk_size", "chunk_overlap", "top_k", "async"} {
			if v, ok := cfg[key]; ok {
				fmt.Printf("%-22s %v\n", key+":", v)
			}
		}
	}
	return nil
}

func runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read local storage)")
	limit := fs.Int("limit", 50, "maximum number of documents")
	offset := fs.Int("offset", 0, "number of documents to skip")
	format := fs.String("format", "text", "output format: text or json")
	_ = fs.Parse(args)
	outFormat, err := cli.ParseFormat(*format)
	if err != nil {
		return err
	}
	ctx := context.Background()

	var docs []*models.Document
	if *serverURL != "" {
		docs, err = newAPIClient(*serverURL).Documents(ctx, *limit, *offset)
	} else {
		docs, err = withStore(*configPath, func(s *storage.SQLiteStore) ([]*models.Document, error) {
			return s.ListDocuments(ctx, *limit, *offset)
		})
	}
	if err != nil {
		return err
	}
	return cli.WriteDocuments(os.Stdout, docs, outFormat)
}

// withStore opens only the metadata store, for commands that need nothing else.
func withStore[T any](configPath string, fn func(*storage.SQLiteStore) (T, error)) (T, error) {
	var zero T
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return zero, fmt.Errorf("load config: %w", err)
	}
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return zero, err
	}
	defer store.Close()
	return fn(store)
}

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	recursive := fs.Bool("recursive", true, "watch subdirectories")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: docrag watch [flags] [directory]...\n\n")
		fmt.Fprintf(fs.Output(), "Ingests files dropped into the directories (default: watch.directories from config) until interrupted.\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(args))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	c, err := setup(ctx, *configPath, *debug)
	if err != nil {
		return err
	}
	defer c.Close()

	dirs := fs.Args()
	if len(dirs) == 0 {
		dirs = c.cfg.Watch.Directories
	}
	if len(dirs) == 0 {
		return errors.New("no directories to watch")
	}
	if _, err := c.store.RecoverStale(ctx); err != nil {
		return err
	}
	inbox := c.inbox(dirs, *recursive)
	if err := inbox.Start(ctx); err != nil {
		return err
	}
	fmt.Printf("Watching %s (Ctrl-C to stop)\n", strings.Join(dirs, ", "))
	<-ctx.Done()
	inbox.Stop()
	return nil
}

// joinArgs joins positional args with spaces so multi-word questions work
// with or without shell quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves flags that appear after the first positional argument
// to the front, since flag.Parse stops at the first non-flag.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func printUsage() {
	fmt.Print(`docrag - document ingestion and retrieval-augmented question answering

Usage:
  docrag <command> [flags] [arguments]

Commands:
  server                 Run the HTTP API (flags: -config, -debug, -async)
  ingest <path>...       Ingest files or directories and print their records
  query <question>       Answer a question from ingested documents (-server to use a running API)
  status [id]            Print a document's status, or a summary
  list                   List document records, newest first
  watch [dir]...         Ingest files dropped into inbox directories
  version                Print the version
  help                   Show this help

Configuration is read from ./config.yaml when present; otherwise defaults and
environment variables (DOCRAG_*, OPENAI_API_KEY, ...) are used.
`)
}
