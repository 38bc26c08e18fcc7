package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/dshills/hadith-search/internal/config"
	"github.com/dshills/hadith-search/internal/corpus"
	"github.com/dshills/hadith-search/internal/embedder"
	"github.com/dshills/hadith-search/internal/indexer"
	"github.com/dshills/hadith-search/internal/logging"
	"github.com/dshills/hadith-search/internal/mcp"
	"github.com/dshills/hadith-search/internal/searcher"
	"github.com/dshills/hadith-search/pkg/types"
)

const (
	serviceName = "hadith-search"
	configKey   = "config"
	loggerKey   = "logger"
)

// loadConfig resolves the configuration and logger before any command runs.
// Logs always go to stderr; stdout is reserved for command output and MCP.
func loadConfig(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if c.IsSet("data-dir") {
		cfg.DataDir = c.String("data-dir")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.LogFormat = c.String("log-format")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.New(serviceName, cfg.LogFormat, cfg.LogLevel, c.App.ErrWriter)
	slog.SetDefault(logger)

	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]interface{})
	}
	c.App.Metadata[configKey] = cfg
	c.App.Metadata[loggerKey] = logger
	return nil
}

// open builds the application from the state loadConfig stored
func open(c *cli.Context, access checksumAccess) (*application, error) {
	cfg, ok := c.App.Metadata[configKey].(*config.Config)
	if !ok {
		return nil, errors.New("configuration not loaded")
	}
	logger, ok := c.App.Metadata[loggerKey].(*slog.Logger)
	if !ok {
		logger = slog.Default()
	}
	return openApplication(cfg, logger, access)
}

func serveCommand(c *cli.Context) error {
	app, err := open(c, checksumsWrite)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := app.cfg.MetricsAddr
	if c.IsSet("metrics-addr") {
		addr = c.String("metrics-addr")
	}
	if addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           metricsMux(app),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			app.logger.Info("metrics listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				app.logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	server, err := mcp.NewServer(app.searcher, app.pipeline, mcp.WithLogger(app.logger))
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	err = server.Serve(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server error: %w", err)
	}
	app.logger.Info("server stopped")
	return nil
}

func metricsMux(app *application) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := app.searcher.IndexStatus(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok\n")
	})
	return mux
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one corpus file is required")
	}

	app, err := open(c, checksumsWrite)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	src := corpus.OpenFiles(c.Args().Slice()...)
	defer func() { _ = src.Close() }()

	report, err := app.pipeline.Ingest(ctx, src, &indexer.Options{Force: c.Bool("force")})
	if report != nil {
		if perr := printJSON(c.App.Writer, report); perr != nil {
			return perr
		}
	}
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	return nil
}

func searchCommand(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return errors.New("a query is required")
	}

	app, err := open(c, checksumsNone)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	resp, err := app.searcher.Search(c.Context, query, c.Int("limit"), &searcher.Filters{
		Collections: c.StringSlice("collection"),
		MinGrade:    c.String("min-grade"),
		Preset:      c.String("preset"),
	})
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	if c.Bool("json") {
		return printJSON(c.App.Writer, resp)
	}

	w := c.App.Writer
	fmt.Fprintf(w, "intent: %s  preset: %s  candidates: %d  (%s)\n",
		resp.Intent, resp.Preset, resp.TotalCandidates, resp.Duration.Round(time.Millisecond))
	if len(resp.Results) == 0 {
		fmt.Fprintln(w, "no results")
		return nil
	}
	for i, r := range resp.Results {
		fmt.Fprintf(w, "\n%d. %s  [%.3f]\n", i+1, r.Locator.GlobalRef, r.Score)
		if r.Narrator != "" {
			fmt.Fprintf(w, "   narrator: %s\n", r.Narrator)
		}
		if len(r.Grading) > 0 {
			fmt.Fprintf(w, "   grading: %s\n", strings.Join(r.Grading, "; "))
		}
		if text := firstLine(r.TextSecondary, r.TextPrimary); text != "" {
			fmt.Fprintf(w, "   %s\n", text)
		}
	}
	return nil
}

func lookupCommand(c *cli.Context) error {
	ref := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(ref) == "" {
		return errors.New("a reference is required")
	}

	app, err := open(c, checksumsNone)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	result, err := app.searcher.LookupExact(c.Context, ref)
	if errors.Is(err, searcher.ErrNotFound) {
		return fmt.Errorf("no entry for reference %q", ref)
	}
	if err != nil {
		return fmt.Errorf("lookup failed: %w", err)
	}
	return printJSON(c.App.Writer, result)
}

func statusCommand(c *cli.Context) error {
	app, err := open(c, checksumsReadOnly)
	if err != nil {
		return err
	}
	defer func() { _ = app.Close() }()

	status, err := app.searcher.IndexStatus(c.Context)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	return printJSON(c.App.Writer, map[string]interface{}{
		"data_dir": app.cfg.DataDir,
		"status":   status,
		"presets":  app.searcher.Presets(),
	})
}

// embedCommand smoke-tests the embedding provider without touching the indexes
func embedCommand(c *cli.Context) error {
	text := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(text) == "" {
		return errors.New("text to embed is required")
	}
	cfg, ok := c.App.Metadata[configKey].(*config.Config)
	if !ok {
		return errors.New("configuration not loaded")
	}

	emb, err := embedder.New(cfg.EmbedderConfig(), slog.Default())
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %w", err)
	}
	defer func() { _ = emb.Close() }()

	result, err := emb.GenerateEmbedding(c.Context, embedder.EmbeddingRequest{Text: text})
	if err != nil {
		return fmt.Errorf("embedding failed: %w", err)
	}
	if len(result.Vector) != cfg.Embedding.Dimension {
		return &types.DimensionError{Expected: cfg.Embedding.Dimension, Actual: len(result.Vector)}
	}

	var norm float64
	for _, v := range result.Vector {
		norm += float64(v) * float64(v)
	}
	preview := result.Vector
	if len(preview) > 8 {
		preview = preview[:8]
	}
	return printJSON(c.App.Writer, map[string]interface{}{
		"provider":  result.Provider,
		"model":     result.Model,
		"dimension": len(result.Vector),
		"norm":      math.Sqrt(norm),
		"preview":   preview,
	})
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// firstLine returns the first non-empty text, cut at its first line break
func firstLine(texts ...string) string {
	for _, t := range texts {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if i := strings.IndexByte(t, '\n'); i >= 0 {
			t = t[:i]
		}
		return t
	}
	return ""
}
