//go:build sqlite_vec && !purego

package storage

// Compiled with CGO and the sqlite_vec tag. Cosine distance is computed by
// sqlite-vec's vec_distance_cosine inside the query, so ORDER BY/LIMIT run in
// SQLite and only k payloads leave the database.
//
//   CGO_ENABLED=1 go build -tags "sqlite_vec,fts5" ./...
//
// Driver used: github.com/mattn/go-sqlite3

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
