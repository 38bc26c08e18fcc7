package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/dshills/hadith-search/pkg/types"
)

// SQLiteVectorIndex implements VectorIndex with embeddings stored as
// little-endian float32 BLOBs next to a JSON metadata mirror
type SQLiteVectorIndex struct {
	db        *sql.DB
	dimension int
}

var _ VectorIndex = (*SQLiteVectorIndex)(nil)

// NewVectorIndex opens (or creates) the vector store at dbPath with a fixed
// dimension. Reopening a store with a different dimension fails with
// types.ErrDimensionMismatch.
func NewVectorIndex(dbPath string, dimension int) (*SQLiteVectorIndex, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: vector dimension must be positive, got %d", types.ErrInvalidArgument, dimension)
	}

	ctx := context.Background()
	db, err := openDatabase(ctx, dbPath, VectorMigrations)
	if err != nil {
		return nil, err
	}

	stored, ok, err := getMeta(ctx, db, metaDimension)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", types.ErrIndexUnavailable, err)
	}
	if ok {
		n, err := strconv.Atoi(stored)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("invalid stored dimension %q: %w", stored, err)
		}
		if n != dimension {
			_ = db.Close()
			return nil, &types.DimensionError{Expected: n, Actual: dimension}
		}
	} else if err := setMeta(ctx, db, metaDimension, strconv.Itoa(dimension)); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteVectorIndex{db: db, dimension: dimension}, nil
}

// Close closes the database connection
func (s *SQLiteVectorIndex) Close() error {
	return s.db.Close()
}

// Dimension returns the configured vector dimensionality
func (s *SQLiteVectorIndex) Dimension() int {
	return s.dimension
}

// Upsert stores the vector and the denormalized document mirror
func (s *SQLiteVectorIndex) Upsert(ctx context.Context, id string, vector []float32, doc *types.Document) error {
	if id == "" || doc == nil {
		return fmt.Errorf("%w: id and document are required", types.ErrInvalidArgument)
	}
	if len(vector) != s.dimension {
		return &types.DimensionError{Expected: s.dimension, Actual: len(vector)}
	}
	payload, err := encodeDocument(doc)
	if err != nil {
		return err
	}

	return withTx(ctx, s.db, func(q querier) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO vectors (id, collection, kind, dimension, embedding, payload, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(id) DO UPDATE SET
				collection = excluded.collection,
				kind = excluded.kind,
				dimension = excluded.dimension,
				embedding = excluded.embedding,
				payload = excluded.payload,
				updated_at = CURRENT_TIMESTAMP
		`, id, doc.Locator.Collection, docKind(doc), len(vector), serializeVector(vector), payload)
		if err != nil {
			return fmt.Errorf("failed to upsert vector %s: %w", id, err)
		}
		return touchLastUpdated(ctx, q)
	})
}

// Delete removes a vector; deleting a missing id is not an error
func (s *SQLiteVectorIndex) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM vectors WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete vector %s: %w", id, err)
	}
	return nil
}

// Query returns the k nearest vectors by cosine distance
func (s *SQLiteVectorIndex) Query(ctx context.Context, vector []float32, k int, filter *MetadataFilter) ([]VectorHit, error) {
	if len(vector) != s.dimension {
		return nil, &types.DimensionError{Expected: s.dimension, Actual: len(vector)}
	}
	if k <= 0 {
		return []VectorHit{}, nil
	}
	return searchVector(ctx, s.db, vector, k, filter)
}

// Status reports dimension, count and build mode
func (s *SQLiteVectorIndex) Status(ctx context.Context) (*VectorStatus, error) {
	status := &VectorStatus{Dimension: s.dimension, BuildMode: BuildMode}
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM vectors").Scan(&status.DocumentCount); err != nil {
		return nil, fmt.Errorf("failed to count vectors: %w", err)
	}
	return status, nil
}

// Vector returns the stored embedding for id, or ErrNotFound
func (s *SQLiteVectorIndex) Vector(ctx context.Context, id string) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, "SELECT embedding FROM vectors WHERE id = ?", id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load vector %s: %w", id, err)
	}
	return deserializeVector(blob), nil
}
