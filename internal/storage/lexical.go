package storage

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"

	"github.com/dshills/hadith-search/internal/textutil"
	"github.com/dshills/hadith-search/pkg/types"
)

// maxInArgs bounds the number of bound parameters per IN clause
const maxInArgs = 500

// SQLiteLexicalIndex implements LexicalIndex with SQLite FTS5
type SQLiteLexicalIndex struct {
	db *sql.DB
}

var _ LexicalIndex = (*SQLiteLexicalIndex)(nil)

// NewLexicalIndex opens (or creates) the lexical store at dbPath.
// Use ":memory:" for an ephemeral index.
func NewLexicalIndex(dbPath string) (*SQLiteLexicalIndex, error) {
	db, err := openDatabase(context.Background(), dbPath, LexicalMigrations)
	if err != nil {
		return nil, err
	}
	return &SQLiteLexicalIndex{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteLexicalIndex) Close() error {
	return s.db.Close()
}

// Upsert inserts or replaces the document and its full-text row atomically
func (s *SQLiteLexicalIndex) Upsert(ctx context.Context, doc *types.Document) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("%w: document id is required", types.ErrInvalidArgument)
	}
	payload, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	return withTx(ctx, s.db, func(q querier) error {
		return s.upsertWithQuerier(ctx, q, doc, payload)
	})
}

func (s *SQLiteLexicalIndex) upsertWithQuerier(ctx context.Context, q querier, doc *types.Document, payload string) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO documents (id, ref_key, collection, kind, checksum, payload, top_grade, grade_tier, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			ref_key = excluded.ref_key,
			collection = excluded.collection,
			kind = excluded.kind,
			checksum = excluded.checksum,
			payload = excluded.payload,
			top_grade = excluded.top_grade,
			grade_tier = excluded.grade_tier,
			updated_at = CURRENT_TIMESTAMP
	`, doc.ID, RefKey(doc.Locator.GlobalRef), doc.Locator.Collection, docKind(doc),
		doc.Checksum, payload, doc.TopGrade(), int(types.GradeTier(doc.Grading)))
	if err != nil {
		return fmt.Errorf("failed to upsert document %s: %w", doc.ID, err)
	}

	var rowID int64
	if err := q.QueryRowContext(ctx, "SELECT rowid FROM documents WHERE id = ?", doc.ID).Scan(&rowID); err != nil {
		return fmt.Errorf("failed to read rowid for %s: %w", doc.ID, err)
	}

	if _, err := q.ExecContext(ctx, "DELETE FROM documents_fts WHERE rowid = ?", rowID); err != nil {
		return fmt.Errorf("failed to clear fts row for %s: %w", doc.ID, err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO documents_fts (rowid, id, collection, arabic_text, english_text, narrator, titles)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rowID, doc.ID, doc.Locator.Collection,
		indexText(doc.TextPrimary),
		indexText(doc.TextSecondary),
		indexText(narratorText(doc)),
		indexText(titleText(doc)))
	if err != nil {
		return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
	}

	return touchLastUpdated(ctx, q)
}

// Delete removes a document; deleting a missing id is not an error
func (s *SQLiteLexicalIndex) Delete(ctx context.Context, id string) error {
	return withTx(ctx, s.db, func(q querier) error {
		var rowID int64
		err := q.QueryRowContext(ctx, "SELECT rowid FROM documents WHERE id = ?", id).Scan(&rowID)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read rowid for %s: %w", id, err)
		}
		if _, err := q.ExecContext(ctx, "DELETE FROM documents_fts WHERE rowid = ?", rowID); err != nil {
			return fmt.Errorf("failed to delete fts row for %s: %w", id, err)
		}
		if _, err := q.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete document %s: %w", id, err)
		}
		return touchLastUpdated(ctx, q)
	})
}

// SearchTerms runs a BM25-ranked FTS5 query. An empty term set yields no hits.
func (s *SQLiteLexicalIndex) SearchTerms(ctx context.Context, query TermQuery) ([]TextHit, error) {
	match := buildMatchExpression(query)
	if match == "" || query.Limit <= 0 {
		return []TextHit{}, nil
	}

	sqlQuery := `
		SELECT id, bm25(documents_fts) AS score
		FROM documents_fts
		WHERE documents_fts MATCH ?
	`
	args := []interface{}{match}

	if len(query.Collections) > 0 {
		sqlQuery += " AND collection IN (" + placeholders(len(query.Collections)) + ")"
		for _, c := range query.Collections {
			args = append(args, c)
		}
	}

	// Lower bm25 is better; id breaks ties so rank order is reproducible
	sqlQuery += " ORDER BY score, id LIMIT ?"
	args = append(args, query.Limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]TextHit, 0, query.Limit)
	for rows.Next() {
		var hit TextHit
		if err := rows.Scan(&hit.ID, &hit.BM25); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		hit.Rank = len(hits) + 1
		// BM25 scores are typically in range [-50, 0]
		hit.Score = 1.0 / (1.0 + math.Abs(hit.BM25)/50.0)
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// Browse lists up to limit documents without a query, strongest grade tier
// first, then by id
func (s *SQLiteLexicalIndex) Browse(ctx context.Context, limit int, collections []string) ([]*types.Document, error) {
	if limit <= 0 {
		return []*types.Document{}, nil
	}
	sqlQuery := "SELECT payload FROM documents"
	args := make([]interface{}, 0, len(collections)+1)
	if len(collections) > 0 {
		sqlQuery += " WHERE collection IN (" + placeholders(len(collections)) + ")"
		for _, c := range collections {
			args = append(args, c)
		}
	}
	sqlQuery += " ORDER BY grade_tier DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to browse documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	docs := make([]*types.Document, 0, limit)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		doc, err := decodeDocument(payload)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// LookupExact resolves a global reference (or a document id) by key. When
// several documents share the reference the lowest id wins.
func (s *SQLiteLexicalIndex) LookupExact(ctx context.Context, ref string) (*types.Document, error) {
	key := RefKey(ref)
	if key == "" {
		return nil, ErrNotFound
	}

	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM documents WHERE ref_key = ? ORDER BY id LIMIT 1", key).Scan(&payload)
	if err == sql.ErrNoRows {
		err = s.db.QueryRowContext(ctx, "SELECT payload FROM documents WHERE id = ?", strings.TrimSpace(ref)).Scan(&payload)
	}
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up reference %q: %w", ref, err)
	}
	return decodeDocument(payload)
}

// LookupBookHadith resolves a hadith by book and site number. An empty
// collection matches any collection and the lowest id wins.
func (s *SQLiteLexicalIndex) LookupBookHadith(ctx context.Context, collection, book, hadith string) (*types.Document, error) {
	if book == "" || hadith == "" {
		return nil, ErrNotFound
	}

	var row *sql.Row
	if collection != "" {
		row = s.db.QueryRowContext(ctx, "SELECT payload FROM documents WHERE id = ? AND kind = ?",
			collection+":"+book+":"+hadith, string(types.KindHadith))
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT payload FROM documents WHERE kind = ? AND id LIKE ? ESCAPE '\' ORDER BY id LIMIT 1`,
			string(types.KindHadith), "%:"+escapeLike(book)+":"+escapeLike(hadith))
	}

	var payload string
	err := row.Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up book %s hadith %s: %w", book, hadith, err)
	}
	return decodeDocument(payload)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}

// Documents loads stored documents by id; missing ids are absent from the map
func (s *SQLiteLexicalIndex) Documents(ctx context.Context, ids []string) (map[string]*types.Document, error) {
	out := make(map[string]*types.Document, len(ids))
	for start := 0; start < len(ids); start += maxInArgs {
		end := start + maxInArgs
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]

		args := make([]interface{}, len(batch))
		for i, id := range batch {
			args[i] = id
		}
		rows, err := s.db.QueryContext(ctx,
			"SELECT id, payload FROM documents WHERE id IN ("+placeholders(len(batch))+")", args...)
		if err != nil {
			return nil, fmt.Errorf("failed to load documents: %w", err)
		}
		for rows.Next() {
			var id, payload string
			if err := rows.Scan(&id, &payload); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("failed to scan document: %w", err)
			}
			doc, err := decodeDocument(payload)
			if err != nil {
				_ = rows.Close()
				return nil, err
			}
			out[id] = doc
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Status reports document count, last update time and schema version
func (s *SQLiteLexicalIndex) Status(ctx context.Context) (*LexicalStatus, error) {
	status := &LexicalStatus{}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents").Scan(&status.DocumentCount); err != nil {
		return nil, fmt.Errorf("failed to count documents: %w", err)
	}
	ts, err := readLastUpdated(ctx, s.db)
	if err != nil {
		return nil, err
	}
	status.LastUpdated = ts

	version, err := SchemaVersion(ctx, s.db)
	if err != nil {
		return nil, err
	}
	status.SchemaVersion = version
	return status, nil
}

// indexText prepares a field for FTS: folded, diacritic-free, script-split
func indexText(s string) string {
	return textutil.SplitScripts(textutil.Fold(s))
}

func narratorText(doc *types.Document) string {
	parts := make([]string, 0, 2)
	for _, n := range []string{doc.NarratorPrimary, doc.NarratorSecondary} {
		if n != "" && n != types.UnknownNarrator {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, " ")
}

func titleText(doc *types.Document) string {
	loc := doc.Locator
	parts := []string{loc.CollectionName, loc.BookTitle, loc.ChapterTitle, loc.GlobalRef}
	return textutil.Collapse(strings.Join(parts, " "))
}
