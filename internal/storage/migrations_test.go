package storage

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open(DriverName, ":memory:")
	require.NoError(t, err)
	// Every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var got string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&got)
	if err == sql.ErrNoRows {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestApplyLexicalMigrations(t *testing.T) {
	db := openMemoryDB(t)
	ctx := context.Background()

	require.NoError(t, ApplyMigrations(ctx, db, LexicalMigrations))

	version, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, LexicalSchemaVersion, version)

	for _, table := range []string{"schema_version", "metadata", "documents", "documents_fts"} {
		assert.True(t, tableExists(t, db, table), "table %s", table)
	}

	_, err = db.Exec("SELECT top_grade FROM documents LIMIT 1")
	assert.NoError(t, err, "1.1.0 adds top_grade")

	// 1.2.0 drops the uniqueness of ref_key
	_, err = db.Exec(`INSERT INTO documents (id, ref_key, collection, kind, checksum, payload)
		VALUES ('a', 'ref 1', 'c', 'hadith', 'x', '{}'), ('b', 'ref 1', 'c', 'hadith', 'y', '{}')`)
	assert.NoError(t, err)
}

func TestApplyVectorMigrations(t *testing.T) {
	db := openMemoryDB(t)
	ctx := context.Background()

	require.NoError(t, ApplyMigrations(ctx, db, VectorMigrations))

	version, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, VectorSchemaVersion, version)
	assert.True(t, tableExists(t, db, "vectors"))
	assert.False(t, tableExists(t, db, "documents"))
}

func TestMigrationsIdempotent(t *testing.T) {
	db := openMemoryDB(t)
	ctx := context.Background()

	require.NoError(t, ApplyMigrations(ctx, db, LexicalMigrations))
	require.NoError(t, ApplyMigrations(ctx, db, LexicalMigrations))

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&count))
	assert.Equal(t, len(LexicalMigrations), count)
}

func TestSchemaVersionOfEmptyDatabase(t *testing.T) {
	db := openMemoryDB(t)

	version, err := SchemaVersion(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0", version)
}

func TestRollbackMigration(t *testing.T) {
	db := openMemoryDB(t)
	ctx := context.Background()
	require.NoError(t, ApplyMigrations(ctx, db, LexicalMigrations))

	require.NoError(t, RollbackMigration(ctx, db, LexicalMigrations))
	version, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, "1.1.0", version)

	require.NoError(t, RollbackMigration(ctx, db, LexicalMigrations))
	version, err = SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", version)
	_, err = db.Exec("SELECT top_grade FROM documents LIMIT 1")
	assert.Error(t, err)

	require.NoError(t, RollbackMigration(ctx, db, LexicalMigrations))
	assert.False(t, tableExists(t, db, "documents"))
	assert.False(t, tableExists(t, db, "schema_version"))

	// A fully rolled back database migrates forward again
	require.NoError(t, ApplyMigrations(ctx, db, LexicalMigrations))
	version, err = SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, LexicalSchemaVersion, version)
}

func TestMigrationsCompareSemantically(t *testing.T) {
	db := openMemoryDB(t)
	ctx := context.Background()

	migrations := []Migration{
		{Version: "1.0.0", Up: schemaVersionTable + "CREATE TABLE a (id INTEGER);"},
		{Version: "1.9.0", Up: "CREATE TABLE b (id INTEGER);"},
		{Version: "1.10.0", Up: "CREATE TABLE c (id INTEGER);"},
	}
	require.NoError(t, ApplyMigrations(ctx, db, migrations))

	version, err := SchemaVersion(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, "1.10.0", version, "1.10.0 sorts after 1.9.0")

	// Re-running applies nothing
	require.NoError(t, ApplyMigrations(ctx, db, migrations))
	for _, table := range []string{"a", "b", "c"} {
		assert.True(t, tableExists(t, db, table))
	}
}

func TestMigrationErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid version", func(t *testing.T) {
		db := openMemoryDB(t)
		err := ApplyMigrations(ctx, db, []Migration{{Version: "not-a-version", Up: schemaVersionTable}})
		assert.ErrorContains(t, err, "invalid migration version")
	})

	t.Run("bad sql", func(t *testing.T) {
		db := openMemoryDB(t)
		err := ApplyMigrations(ctx, db, []Migration{{Version: "1.0.0", Up: "CREATE TABLE ("}})
		assert.ErrorContains(t, err, "failed to apply migration 1.0.0")
	})

	t.Run("rollback of unknown version", func(t *testing.T) {
		db := openMemoryDB(t)
		require.NoError(t, ApplyMigrations(ctx, db, LexicalMigrations))
		err := RollbackMigration(ctx, db, VectorMigrations)
		assert.ErrorContains(t, err, "not found")
	})
}
