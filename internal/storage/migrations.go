package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// LexicalSchemaVersion is the latest lexical store migration
	LexicalSchemaVersion = "1.2.0"
	// VectorSchemaVersion is the latest vector store migration
	VectorSchemaVersion = "1.0.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// LexicalMigrations contains the lexical store migrations in order
var LexicalMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      lexicalV1Up,
		Down:    lexicalV1Down,
	},
	{
		Version: "1.1.0",
		Up:      lexicalV11Up,
		Down:    lexicalV11Down,
	},
	{
		Version: "1.2.0",
		Up:      lexicalV12Up,
		Down:    lexicalV12Down,
	},
}

// VectorMigrations contains the vector store migrations in order
var VectorMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      vectorV1Up,
		Down:    vectorV1Down,
	},
}

const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

const lexicalV1Up = schemaVersionTable + `
-- Keyed document store; ref_key gives exact-reference lookup without touching FTS
CREATE TABLE IF NOT EXISTS documents (
    id TEXT PRIMARY KEY,
    ref_key TEXT NOT NULL,
    collection TEXT NOT NULL,
    kind TEXT NOT NULL,
    checksum TEXT NOT NULL,
    payload TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_ref_key ON documents(ref_key);
CREATE INDEX IF NOT EXISTS idx_documents_collection ON documents(collection);

-- Full-text index; text columns hold script-split, diacritic-free text
CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
    id UNINDEXED,
    collection UNINDEXED,
    arabic_text,
    english_text,
    narrator,
    titles,
    tokenize = 'unicode61 remove_diacritics 2'
);
`

const lexicalV1Down = `
DROP TABLE IF EXISTS documents_fts;
DROP TABLE IF EXISTS documents;
DROP TABLE IF EXISTS metadata;
DROP TABLE IF EXISTS schema_version;
`

// 1.1.0 tracks grading alongside the FTS row for filter-only reads
const lexicalV11Up = `
ALTER TABLE documents ADD COLUMN top_grade TEXT NOT NULL DEFAULT '';
CREATE INDEX IF NOT EXISTS idx_documents_top_grade ON documents(top_grade);
`

const lexicalV11Down = `
DROP INDEX IF EXISTS idx_documents_top_grade;
ALTER TABLE documents DROP COLUMN top_grade;
`

// 1.2.0 lets several ids share a global reference (lookups take the lowest
// id) and stores the grade tier for browsing without a query. The backfill
// approximates the tier; rows are exact once rewritten.
const lexicalV12Up = `
DROP INDEX IF EXISTS idx_documents_ref_key;
CREATE INDEX IF NOT EXISTS idx_documents_ref_key_id ON documents(ref_key, id);

ALTER TABLE documents ADD COLUMN grade_tier INTEGER NOT NULL DEFAULT 0;
UPDATE documents SET grade_tier = CASE
    WHEN lower(top_grade) LIKE '%sahih%' OR lower(top_grade) LIKE '%saheeh%' OR top_grade LIKE '%صحيح%' THEN 2
    WHEN lower(top_grade) LIKE '%hasan%' OR top_grade LIKE '%حسن%' THEN 1
    ELSE 0 END;
CREATE INDEX IF NOT EXISTS idx_documents_grade_tier ON documents(grade_tier DESC, id);
`

// Fails while two documents share a reference
const lexicalV12Down = `
DROP INDEX IF EXISTS idx_documents_grade_tier;
ALTER TABLE documents DROP COLUMN grade_tier;
DROP INDEX IF EXISTS idx_documents_ref_key_id;
CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_ref_key ON documents(ref_key);
`

const vectorV1Up = schemaVersionTable + `
CREATE TABLE IF NOT EXISTS vectors (
    id TEXT PRIMARY KEY,
    collection TEXT NOT NULL,
    kind TEXT NOT NULL,
    dimension INTEGER NOT NULL,
    embedding BLOB NOT NULL,
    payload TEXT NOT NULL,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_vectors_collection ON vectors(collection);
CREATE INDEX IF NOT EXISTS idx_vectors_kind ON vectors(kind);
`

const vectorV1Down = `
DROP TABLE IF EXISTS vectors;
DROP TABLE IF EXISTS metadata;
DROP TABLE IF EXISTS schema_version;
`

// ApplyMigrations runs all pending migrations from the given set
func ApplyMigrations(ctx context.Context, db *sql.DB, migrations []Migration) error {
	currentVersion, err := currentSchemaVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !currentVersion.LessThan(migrationVersion) {
			continue // Already applied
		}

		if _, err := db.ExecContext(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}

		currentVersion = migrationVersion
	}

	return nil
}

// SchemaVersion returns the latest applied migration version, "0.0.0" if none
func SchemaVersion(ctx context.Context, db *sql.DB) (string, error) {
	v, err := currentSchemaVersion(ctx, db)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

func currentSchemaVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	var tableName string
	err := db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check schema_version table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	latest := semver.MustParse("0.0.0")
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(s)
		if err != nil {
			return nil, fmt.Errorf("invalid schema version %s: %w", s, err)
		}
		if v.GreaterThan(latest) {
			latest = v
		}
	}
	return latest, rows.Err()
}

// RollbackMigration rolls back the most recent migration of the given set
func RollbackMigration(ctx context.Context, db *sql.DB, migrations []Migration) error {
	current, err := currentSchemaVersion(ctx, db)
	if err != nil {
		return err
	}
	currentVersion := current.Original()

	var migration *Migration
	for i := range migrations {
		v, err := semver.NewVersion(migrations[i].Version)
		if err == nil && v.Equal(current) {
			migration = &migrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", currentVersion)
	}

	if _, err := db.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", migration.Version, err)
	}

	// The first migration drops schema_version itself
	var tableName string
	err = db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name='schema_version'").Scan(&tableName)
	if err == sql.ErrNoRows {
		return nil
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", migration.Version); err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", migration.Version, err)
	}
	return nil
}
