package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"

	"github.com/dshills/hadith-search/internal/corpus"
	"github.com/dshills/hadith-search/internal/embedder"
	"github.com/dshills/hadith-search/internal/metrics"
	"github.com/dshills/hadith-search/internal/normalizer"
	"github.com/dshills/hadith-search/internal/storage"
	"github.com/dshills/hadith-search/pkg/types"
)

const (
	// DefaultBatchSize is how many changed documents are embedded per provider call
	DefaultBatchSize = 32

	// maxReportedErrors caps Report.Errors; the Failed count stays exact
	maxReportedErrors = 1000
)

// ChecksumStore is the id -> checksum table consulted before any write
type ChecksumStore interface {
	Get(ctx context.Context, id string) (string, bool, error)
	Put(ctx context.Context, id, checksum string) error
}

// Pipeline drives raw records into the vector and lexical indexes, skipping
// documents whose checksum is unchanged since the last successful write
type Pipeline struct {
	lexical   storage.LexicalIndex
	vector    storage.VectorIndex
	checksums ChecksumStore
	embedder  embedder.Embedder

	pool      *ants.Pool
	batchSize int
	metrics   *metrics.Metrics
	logger    *slog.Logger

	lock runLock
}

// Option configures a Pipeline
type Option func(*Pipeline) error

// WithPoolSize sets the number of concurrent index writers.
// Default is runtime.NumCPU(), with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		if p.pool != nil {
			p.pool.Release()
		}
		p.pool = pool
		return nil
	}
}

// WithBatchSize sets how many documents are embedded per provider call
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 || size > embedder.MaxBatchSize {
			return fmt.Errorf("%w: batch size must be in [1,%d], got %d", types.ErrInvalidArgument, embedder.MaxBatchSize, size)
		}
		p.batchSize = size
		return nil
	}
}

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithMetrics records ingestion counters on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) error {
		p.metrics = m
		return nil
	}
}

// New creates an ingestion pipeline over the given stores
func New(lexical storage.LexicalIndex, vector storage.VectorIndex, checksums ChecksumStore, emb embedder.Embedder, opts ...Option) (*Pipeline, error) {
	if lexical == nil || vector == nil || checksums == nil || emb == nil {
		return nil, fmt.Errorf("%w: lexical index, vector index, checksum store and embedder are required", types.ErrInvalidArgument)
	}
	if emb.Dimension() != vector.Dimension() {
		return nil, &types.DimensionError{Expected: vector.Dimension(), Actual: emb.Dimension()}
	}

	p := &Pipeline{
		lexical:   lexical,
		vector:    vector,
		checksums: checksums,
		embedder:  emb,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			p.Release()
			return nil, err
		}
	}
	if p.pool == nil {
		if err := WithPoolSize(runtime.NumCPU())(p); err != nil {
			return nil, err
		}
	}
	p.logger = p.logger.With("component", "ingestion")
	return p, nil
}

// Release frees the worker pool. The pipeline must not be used afterwards.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// Running reports whether an ingestion run is in progress
func (p *Pipeline) Running() bool {
	return p.lock.running()
}

// Options tunes one ingestion run
type Options struct {
	// Force rewrites every valid document regardless of its stored checksum.
	// Checksums are still updated.
	Force bool
}

// Report summarizes one ingestion run
type Report struct {
	RunID            string        `json:"run_id"`
	Inserted         int           `json:"inserted"`
	SkippedUnchanged int           `json:"skipped_unchanged"`
	Failed           int           `json:"failed"`
	Errors           []string      `json:"errors"`
	Duration         time.Duration `json:"duration_ns"`
}

// tally accumulates outcomes from concurrent writers
type tally struct {
	mu     sync.Mutex
	report *Report
	m      *metrics.Metrics
}

func (t *tally) inserted() {
	t.mu.Lock()
	t.report.Inserted++
	t.mu.Unlock()
}

func (t *tally) skipped() {
	t.mu.Lock()
	t.report.SkippedUnchanged++
	t.mu.Unlock()
	t.m.DocumentCounted(metrics.StatusSkipped)
}

func (t *tally) failed(err error) {
	t.mu.Lock()
	t.report.Failed++
	if len(t.report.Errors) < maxReportedErrors {
		t.report.Errors = append(t.report.Errors, err.Error())
	}
	t.mu.Unlock()
}

// Ingest consumes src until io.EOF. Per-record failures are counted in the
// report and never stop the run. A dimension mismatch, an unavailable index,
// a terminal source error or context cancellation stops the run; the partial
// report is returned together with the error.
func (p *Pipeline) Ingest(ctx context.Context, src corpus.Source, opts *Options) (*Report, error) {
	if opts == nil {
		opts = &Options{}
	}
	if !p.lock.tryAcquire() {
		return nil, ErrIngestionInProgress
	}
	defer p.lock.release()

	start := time.Now()
	report := &Report{RunID: uuid.NewString(), Errors: make([]string, 0)}
	t := &tally{report: report, m: p.metrics}
	logger := p.logger.With("run_id", report.RunID)
	logger.Info("ingestion started", "force", opts.Force)

	err := p.run(ctx, src, opts, t, logger)

	report.Duration = time.Since(start)
	status := metrics.StatusCompleted
	if err != nil {
		status = metrics.StatusAborted
		logger.Error("ingestion aborted", "error", err,
			"inserted", report.Inserted, "skipped", report.SkippedUnchanged, "failed", report.Failed)
	} else {
		logger.Info("ingestion finished",
			"inserted", report.Inserted, "skipped", report.SkippedUnchanged,
			"failed", report.Failed, "duration", report.Duration)
	}
	p.metrics.IngestRun(status, report.Duration)
	return report, err
}

func (p *Pipeline) run(ctx context.Context, src corpus.Source, opts *Options, t *tally, logger *slog.Logger) error {
	batch := make([]*types.Document, 0, p.batchSize)
	inBatch := make(map[string]bool, p.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := p.processBatch(ctx, batch, t, logger)
		batch = batch[:0]
		clear(inBatch)
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		rec, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if errors.Is(err, types.ErrValidation) {
				t.failed(err)
				t.m.DocumentCounted(metrics.StatusFailed)
				continue
			}
			return fmt.Errorf("failed to read records: %w", err)
		}

		doc, err := normalizer.Normalize(rec)
		if err != nil {
			logger.Debug("record rejected", "error", err)
			t.failed(err)
			t.m.DocumentCounted(metrics.StatusFailed)
			continue
		}

		if !opts.Force {
			stored, ok, err := p.checksums.Get(ctx, doc.ID)
			if err != nil {
				return fmt.Errorf("%w: %w", types.ErrIndexUnavailable, err)
			}
			if ok && stored == doc.Checksum {
				t.skipped()
				continue
			}
		}

		// The same id twice in one batch would race; the later record wins
		if inBatch[doc.ID] {
			if err := flush(); err != nil {
				return err
			}
		}
		batch = append(batch, doc)
		inBatch[doc.ID] = true

		if len(batch) >= p.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

// processBatch embeds the batch in one provider call, then writes each
// document on the worker pool. Returns only run-fatal errors.
func (p *Pipeline) processBatch(ctx context.Context, batch []*types.Document, t *tally, logger *slog.Logger) error {
	texts := make([]string, len(batch))
	for i, doc := range batch {
		texts[i] = doc.CombinedText
	}

	resp, err := p.embedder.GenerateBatch(ctx, embedder.BatchEmbeddingRequest{Texts: texts})
	if err != nil {
		if isFatal(err) || ctx.Err() != nil {
			return err
		}
		logger.Warn("embedding batch failed", "documents", len(batch), "error", err)
		for _, doc := range batch {
			t.failed(fmt.Errorf("%s: embed: %w", doc.ID, err))
			t.m.DocumentCounted(metrics.StatusFailed)
		}
		return nil
	}
	if len(resp.Embeddings) != len(batch) {
		return fmt.Errorf("%w: expected %d embeddings, got %d", embedder.ErrProviderFailed, len(batch), len(resp.Embeddings))
	}

	var (
		wg       sync.WaitGroup
		fatalMu  sync.Mutex
		fatalErr error
	)
	setFatal := func(err error) {
		fatalMu.Lock()
		if fatalErr == nil {
			fatalErr = err
		}
		fatalMu.Unlock()
	}

	for i, doc := range batch {
		vector := resp.Embeddings[i].Vector
		wg.Add(1)
		t.m.DocumentStarted()
		submitErr := p.pool.Submit(func() {
			defer wg.Done()
			if err := p.writeDocument(ctx, doc, vector); err != nil {
				t.m.DocumentFinished(metrics.StatusFailed)
				if isFatal(err) {
					setFatal(err)
					return
				}
				logger.Warn("document write failed", "id", doc.ID, "error", err)
				t.failed(err)
				return
			}
			t.m.DocumentFinished(metrics.StatusInserted)
			t.inserted()
		})
		if submitErr != nil {
			wg.Done()
			t.m.DocumentFinished(metrics.StatusFailed)
			setFatal(fmt.Errorf("failed to schedule write: %w", submitErr))
			break
		}
	}
	wg.Wait()

	if fatalErr != nil {
		return fatalErr
	}
	return ctx.Err()
}

// writeDocument writes the vector entry, then the lexical entry, and records
// the checksum only when both succeeded. A failed lexical write leaves the
// old checksum in place so the next run retries the document.
func (p *Pipeline) writeDocument(ctx context.Context, doc *types.Document, vector []float32) error {
	if err := p.vector.Upsert(ctx, doc.ID, vector, doc); err != nil {
		return fmt.Errorf("%s: vector write: %w", doc.ID, err)
	}
	if err := p.lexical.Upsert(ctx, doc); err != nil {
		return fmt.Errorf("%s: lexical write: %w", doc.ID, err)
	}
	if err := p.checksums.Put(ctx, doc.ID, doc.Checksum); err != nil {
		return fmt.Errorf("%s: checksum write: %w", doc.ID, err)
	}
	return nil
}

// isFatal reports configuration-level failures that must stop the run
func isFatal(err error) bool {
	return errors.Is(err, types.ErrDimensionMismatch) || errors.Is(err, types.ErrIndexUnavailable)
}
