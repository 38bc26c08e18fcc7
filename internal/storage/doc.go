// Package storage provides SQLite-based persistence for the two retrieval
// indexes.
//
// The storage layer manages:
//   - The lexical index: a keyed document store plus an FTS5 table over
//     Arabic text, English text, narrator and titles
//   - The vector index: one fixed-dimension embedding per document, with
//     collection and kind columns for pre-limit filtering
//
// Each index lives in its own database file and carries its own migration
// history. Both keep a JSON mirror of the document so either can hydrate a
// candidate on its own.
//
// # Database Schema
//
// Lexical (lexical.db):
//   - documents: id, ref_key (folded global reference), collection, kind,
//     checksum, top_grade, grade_tier, payload
//   - documents_fts: FTS5, unicode61 tokenizer with diacritics removed
//
// Vector (vectors.db):
//   - vectors: id, collection, kind, dimension, embedding (little-endian
//     float32 blob), payload
//   - metadata: the dimension the index was created with
//
// # Basic Usage
//
//	lexical, err := storage.NewLexicalIndex(filepath.Join(dir, "lexical.db"))
//	if err != nil {
//	    return err
//	}
//	defer lexical.Close()
//
//	vectors, err := storage.NewVectorIndex(filepath.Join(dir, "vectors.db"), 384)
//	if err != nil {
//	    return err
//	}
//	defer vectors.Close()
//
//	hits, err := lexical.SearchTerms(ctx, storage.TermQuery{
//	    Terms:  []string{"anger", "strong"},
//	    Fields: []storage.Field{storage.FieldEnglish, storage.FieldNarrator},
//	    Limit:  25,
//	    Collections: []string{"bukhari"},
//	})
//
//	near, err := vectors.Query(ctx, queryVector, 25, nil)
//
// # Exact References
//
// LookupExact folds the reference ("Riyad as-Salihin 680", "2:255") the same
// way ref_key was folded at write time and reads one row by unique index.
// A miss is ErrNotFound.
//
// # Dimensions
//
// The vector dimension is fixed when the database is created. Reopening
// with a different dimension, or upserting a vector of the wrong length,
// fails with types.ErrDimensionMismatch.
//
// # Build Tags
//
// CGO Build (sqlite_vec tag):
//
//   - Uses github.com/mattn/go-sqlite3 driver
//
//   - Distances computed by sqlite-vec's vec_distance_cosine in SQL
//
//     CGO_ENABLED=1 go build -tags "sqlite_vec,fts5"
//
// Pure Go Build (default):
//
//   - Uses modernc.org/sqlite driver
//
//   - Distances computed in Go after the metadata filter
//
//     CGO_ENABLED=0 go build
//
// # Migrations
//
// Schema versions are semver strings compared with Masterminds/semver, so
// 1.10.0 correctly follows 1.9.0. ApplyMigrations is idempotent.
package storage
