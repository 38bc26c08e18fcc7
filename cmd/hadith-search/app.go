package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/dshills/hadith-search/internal/checksum"
	"github.com/dshills/hadith-search/internal/config"
	"github.com/dshills/hadith-search/internal/embedder"
	"github.com/dshills/hadith-search/internal/indexer"
	"github.com/dshills/hadith-search/internal/metrics"
	"github.com/dshills/hadith-search/internal/router"
	"github.com/dshills/hadith-search/internal/searcher"
	"github.com/dshills/hadith-search/internal/storage"
)

// application holds the stores and services shared by every command. The
// searcher and the pipeline share one embedder so its cache serves both.
type application struct {
	cfg    *config.Config
	logger *slog.Logger

	lexical   *storage.SQLiteLexicalIndex
	vector    *storage.SQLiteVectorIndex
	checksums *checksum.Store
	embedder  embedder.Embedder
	metrics   *metrics.Metrics

	searcher *searcher.Searcher
	pipeline *indexer.Pipeline

	closers []func() error
}

// checksumAccess is how a command uses the checksum store. Badger admits one
// writer per directory, so only commands that ingest take the writer lock;
// search never touches the store.
type checksumAccess int

const (
	checksumsNone checksumAccess = iota
	checksumsReadOnly
	checksumsWrite
)

// openApplication opens the stores under cfg.DataDir and wires the services.
// The ingestion pipeline exists only with checksumsWrite.
func openApplication(cfg *config.Config, logger *slog.Logger, access checksumAccess) (app *application, err error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	app = &application{cfg: cfg, logger: logger, metrics: metrics.New()}
	defer func() {
		if err != nil {
			_ = app.Close()
			app = nil
		}
	}()

	app.lexical, err = storage.NewLexicalIndex(cfg.LexicalPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open lexical index: %w", err)
	}
	app.closers = append(app.closers, app.lexical.Close)

	app.vector, err = storage.NewVectorIndex(cfg.VectorPath(), cfg.Embedding.Dimension)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}
	app.closers = append(app.closers, app.vector.Close)

	switch access {
	case checksumsWrite:
		app.checksums, err = checksum.Open(cfg.ChecksumDir(), logger)
		if err != nil {
			return nil, fmt.Errorf("checksum store is held by another process (is serve or ingest running?): %w", err)
		}
		app.closers = append(app.closers, app.checksums.Close)
	case checksumsReadOnly:
		// Status degrades to a null checksum count rather than failing
		cs, openErr := checksum.Open(cfg.ChecksumDir(), logger, checksum.WithReadOnly())
		if openErr != nil {
			logger.Warn("checksum store unavailable", "error", openErr)
		} else {
			app.checksums = cs
			app.closers = append(app.closers, cs.Close)
		}
	}

	app.embedder, err = embedder.New(cfg.EmbedderConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	app.closers = append(app.closers, app.embedder.Close)

	app.searcher, err = searcher.New(app.lexical, app.vector, app.embedder, app.searcherOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize searcher: %w", err)
	}

	if access != checksumsWrite {
		logger.Debug("application ready without ingestion", "data_dir", cfg.DataDir)
		return app, nil
	}

	app.pipeline, err = indexer.New(app.lexical, app.vector, app.checksums, app.embedder,
		indexer.WithPoolSize(cfg.Ingest.Workers),
		indexer.WithBatchSize(cfg.Ingest.BatchSize),
		indexer.WithLogger(logger),
		indexer.WithMetrics(app.metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ingestion pipeline: %w", err)
	}
	app.closers = append(app.closers, func() error {
		app.pipeline.Release()
		return nil
	})

	logger.Debug("application ready",
		"data_dir", cfg.DataDir,
		"embedder", app.embedder.Provider()+"/"+app.embedder.Model(),
		"dimension", cfg.Embedding.Dimension,
		"build_mode", storage.BuildMode)
	return app, nil
}

func (a *application) searcherOptions() []searcher.Option {
	cfg := a.cfg
	opts := []searcher.Option{
		searcher.WithLogger(a.logger),
		searcher.WithRouter(a.router()),
		searcher.WithOverfetch(cfg.Search.Overfetch),
		searcher.WithCache(cfg.Search.CacheSize, cfg.Search.CacheTTL.Duration),
		searcher.WithMetrics(a.metrics),
	}
	if a.checksums != nil {
		opts = append(opts, searcher.WithChecksums(a.checksums))
	}
	if cfg.Search.Timeout.Duration > 0 {
		opts = append(opts, searcher.WithTimeout(cfg.Search.Timeout.Duration))
	}

	names := make([]string, 0, len(cfg.Weights))
	for name := range cfg.Weights {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		opts = append(opts, searcher.WithWeights(name, cfg.Weights[name]))
	}
	return append(opts, searcher.WithDefaultPreset(cfg.Search.Preset))
}

// router applies the configured tables; empty lists keep the built-in ones
func (a *application) router() *router.Router {
	var opts []router.Option
	if len(a.cfg.Narrators) > 0 {
		opts = append(opts, router.WithNarrators(a.cfg.Narrators...))
	}
	if len(a.cfg.Templates) > 0 {
		opts = append(opts, router.WithTemplates(a.cfg.Templates...))
	}
	if len(a.cfg.Collections) > 0 {
		opts = append(opts, router.WithCollections(a.cfg.Collections...))
	}
	return router.New(opts...)
}

// Close releases everything in reverse order of opening
func (a *application) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
