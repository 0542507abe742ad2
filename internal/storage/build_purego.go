//go:build !sqlite_vec

package storage

// Default build: pure Go SQLite, no C toolchain needed. Vectors are ranked
// in Go after a collection scan.
//
//   CGO_ENABLED=0 go build ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName is the database/sql driver
	DriverName = "sqlite"

	// VectorExtensionAvailable selects SQL-side ranking
	VectorExtensionAvailable = false

	// BuildMode describes the current build configuration
	BuildMode = "purego"
)
