// Package storage persists code block vectors behind the VectorStore
// interface.
//
// Three implementations are provided:
//
//   - SQLiteStore, the default, keeps every workspace collection in one
//     database file. The schema is versioned with semver migrations.
//   - BoltStore keeps a collection in a bbolt bucket and searches an
//     in-memory copy by brute force.
//   - QdrantStore talks to a Qdrant server over its REST API.
//
// # Build Modes
//
// The SQLite driver is chosen at compile time:
//
//	go build ./...                              # modernc.org/sqlite, pure Go
//	CGO_ENABLED=1 go build -tags sqlite_vec ./... # mattn/go-sqlite3 + sqlite-vec
//
// With sqlite_vec, cosine similarity is computed inside SQLite. Otherwise
// candidate rows are scanned and ranked in Go.
//
// # Directory Filters
//
// Search takes a directory prefix. Prefixes are normalized with
// NormalizePrefix and match whole path segments, so "src/api" selects
// "src/api/x.go" but not "src/apiary/x.go". "", "." and "./" select the
// whole workspace.
//
// # Collections
//
// A collection is named after the workspace path (CollectionName) and has a
// fixed vector dimension. Initialize recreates it, dropping all points,
// when the configured dimension differs from the stored one, and reports
// that as a newly created collection so callers can clear dependent caches.
package storage
