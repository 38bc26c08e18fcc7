//go:build purego || !sqlite_vec

package storage

// Default build: pure Go SQLite, no C toolchain needed. Vector distances are
// computed in Go after the metadata filter has narrowed the rows, which is
// fine for a corpus of a few tens of thousands of passages.
//
//   CGO_ENABLED=0 go build ./...
//
// Driver used: modernc.org/sqlite

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite"

	// VectorExtensionAvailable indicates if vector extension is available
	VectorExtensionAvailable = false

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
