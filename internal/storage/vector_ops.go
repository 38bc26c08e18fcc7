package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/dshills/hadith-search/internal/textutil"
	"github.com/dshills/hadith-search/pkg/types"
)

// searchVector performs vector similarity search using cosine distance
func searchVector(ctx context.Context, db *sql.DB, queryVector []float32, k int, filter *MetadataFilter) ([]VectorHit, error) {
	// Use optimized SQL-based search when sqlite-vec is available
	if VectorExtensionAvailable {
		return searchVectorOptimized(ctx, db, queryVector, k, filter)
	}
	// Fall back to Go-based computation for purego builds
	return searchVectorFallback(ctx, db, queryVector, k, filter)
}

// searchVectorOptimized computes distances in SQL with sqlite-vec
func searchVectorOptimized(ctx context.Context, db *sql.DB, queryVector []float32, k int, filter *MetadataFilter) ([]VectorHit, error) {
	query := `
		SELECT id, vec_distance_cosine(embedding, ?) AS distance, payload
		FROM vectors
		WHERE dimension = ?
	`
	args := []interface{}{serializeVector(queryVector), len(queryVector)}

	// Filters go into WHERE so they apply before LIMIT
	query, args = applyMetadataFilter(query, args, filter)

	query += " ORDER BY distance, id LIMIT ?"
	args = append(args, k)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute vector search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]VectorHit, 0, k)
	for rows.Next() {
		var (
			hit     VectorHit
			payload string
		)
		if err := rows.Scan(&hit.ID, &hit.Distance, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		if hit.Document, err = decodeDocument(payload); err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// searchVectorFallback scores every filtered row in Go and keeps the top k.
// This is used when sqlite-vec extension is not available (purego builds)
func searchVectorFallback(ctx context.Context, db *sql.DB, queryVector []float32, k int, filter *MetadataFilter) ([]VectorHit, error) {
	query := `
		SELECT id, embedding
		FROM vectors
		WHERE dimension = ?
	`
	args := []interface{}{len(queryVector)}
	query, args = applyMetadataFilter(query, args, filter)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query embeddings: %w", err)
	}
	candidates, err := computeDistances(rows, queryVector)
	_ = rows.Close()
	if err != nil {
		return nil, err
	}

	sortCandidates(candidates)
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	// Hydrate only the survivors
	hits := make([]VectorHit, 0, len(candidates))
	for _, c := range candidates {
		var payload string
		if err := db.QueryRowContext(ctx, "SELECT payload FROM vectors WHERE id = ?", c.id).Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to load vector payload %s: %w", c.id, err)
		}
		doc, err := decodeDocument(payload)
		if err != nil {
			return nil, err
		}
		hits = append(hits, VectorHit{ID: c.id, Distance: c.distance, Document: doc})
	}
	return hits, nil
}

// applyMetadataFilter adds WHERE clause membership filters
func applyMetadataFilter(query string, args []interface{}, filter *MetadataFilter) (string, []interface{}) {
	if filter.IsEmpty() {
		return query, args
	}

	if len(filter.Collections) > 0 {
		query += " AND collection IN (" + placeholders(len(filter.Collections)) + ")"
		for _, c := range filter.Collections {
			args = append(args, c)
		}
	}

	if len(filter.Kinds) > 0 {
		query += " AND kind IN (" + placeholders(len(filter.Kinds)) + ")"
		for _, k := range filter.Kinds {
			args = append(args, string(k))
		}
	}

	return query, args
}

// computeDistances processes rows and computes cosine distance
func computeDistances(rows *sql.Rows, queryVector []float32) ([]candidate, error) {
	candidates := make([]candidate, 0, 256)
	for rows.Next() {
		var (
			id   string
			blob []byte
		)
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		vector := deserializeVector(blob)
		if len(vector) != len(queryVector) {
			continue
		}
		candidates = append(candidates, candidate{id: id, distance: 1 - cosineSimilarity(queryVector, vector)})
	}
	return candidates, rows.Err()
}

// candidate is a vector row with its distance to the query
type candidate struct {
	id       string
	distance float64
}

// sortCandidates orders by ascending distance, then id
func sortCandidates(candidates []candidate) {
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].id < candidates[j].id
	})
}

// serializeVector converts a float32 slice to a byte blob (little-endian)
func serializeVector(vector []float32) []byte {
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// deserializeVector converts a byte blob back to a float32 slice
func deserializeVector(blob []byte) []float32 {
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		bits := binary.LittleEndian.Uint32(blob[i*4:])
		vector[i] = math.Float32frombits(bits)
	}
	return vector
}

// cosineSimilarity computes the cosine similarity between two vectors
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}

// buildMatchExpression turns a TermQuery into an FTS5 MATCH string.
// Terms and the phrase are OR-combined; every token is quoted so user input
// can never inject FTS5 operators.
func buildMatchExpression(q TermQuery) string {
	clauses := make([]string, 0, len(q.Terms)+1)
	seen := make(map[string]bool)

	if phrase := textutil.Tokenize(q.Phrase); len(phrase) > 0 {
		clauses = append(clauses, quoteFTS(strings.Join(phrase, " ")))
	}

	for _, term := range q.Terms {
		for _, tok := range textutil.Tokenize(term) {
			if seen[tok] {
				continue
			}
			seen[tok] = true
			clause := quoteFTS(tok)
			if len([]rune(tok)) >= 3 {
				clause += "*"
			}
			clauses = append(clauses, clause)
		}
	}

	if len(clauses) == 0 {
		return ""
	}
	expr := strings.Join(clauses, " OR ")

	fields := q.Fields
	if len(fields) == 0 || len(fields) == len(AllFields) {
		return expr
	}
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = string(f)
	}
	return "{" + strings.Join(cols, " ") + "} : (" + expr + ")"
}

// quoteFTS wraps s as an FTS5 string, doubling embedded quotes
func quoteFTS(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// SerializeVector is an exported helper for testing
func SerializeVector(vector []float32) []byte {
	return serializeVector(vector)
}

// DeserializeVector is an exported helper for testing
func DeserializeVector(blob []byte) []float32 {
	return deserializeVector(blob)
}

// CosineSimilarity is an exported helper for testing
func CosineSimilarity(a, b []float32) float64 {
	return cosineSimilarity(a, b)
}

// docKind returns the stored kind label, defaulting to hadith
func docKind(doc *types.Document) string {
	if doc.Locator.Kind == "" {
		return string(types.KindHadith)
	}
	return string(doc.Locator.Kind)
}
