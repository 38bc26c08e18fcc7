// Package indexer keeps the lexical and vector indexes in step with a
// changing corpus.
//
// # Basic Usage
//
//	p, err := indexer.New(lexical, vector, checksums, emb,
//	    indexer.WithPoolSize(4),
//	    indexer.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	defer p.Release()
//
//	report, err := p.Ingest(ctx, corpus.OpenFiles("riyadussalihin.jsonl"), nil)
//
// # Pipeline
//
// Each raw record goes through these stages:
//
//  1. Normalize into a Document; validation failures are counted and skipped
//  2. Compare the document checksum with the checksum store; unchanged
//     documents are skipped without any write
//  3. Embed changed documents in batches
//  4. Write the vector entry, then the lexical entry, on an ants worker pool
//  5. Record the new checksum, only if both writes succeeded
//
// Because step 5 is withheld on a partial write, a document whose lexical
// write failed is retried by the next run instead of being skipped.
//
// # Failures
//
// Per-document problems end up in Report.Failed and Report.Errors and the run
// continues. A dimension mismatch between the embedder and the vector index,
// an unavailable store, a terminal source error or cancellation stops the run;
// Ingest then returns the partial report together with the error.
//
// Only one run may be active per Pipeline. A concurrent call fails with
// ErrIngestionInProgress.
package indexer
