// Package cache persists the per-file content hashes the indexer uses to
// skip unchanged files.
//
// Mutations are applied in memory immediately and written to disk through a
// Debouncer, so a burst of file events produces one write. Tests call Flush
// instead of waiting on the timer.
package cache
