//go:build sqlite_vec

package storage

// Compiled with CGO and the sqlite_vec tag. Search then ranks inside SQLite
// through vec_distance_cosine, which requires the sqlite-vec extension to be
// loadable by the mattn driver.
//
//   CGO_ENABLED=1 go build -tags sqlite_vec ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the database/sql driver
	DriverName = "sqlite3"

	// VectorExtensionAvailable selects SQL-side ranking
	VectorExtensionAvailable = true

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)
