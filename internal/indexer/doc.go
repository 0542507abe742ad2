// Package indexer keeps a workspace's vector store in sync with its files.
//
// Scanner walks the workspace, skipping hidden directories, unsupported
// extensions, files over MaxFileSize and anything matched by the ignore
// rules (.gitignore, then .codeindexignore). Each file's SHA-256 is
// compared with the hash cache; changed files are chunked, embedded in
// batches of about BatchSegmentThreshold blocks and upserted. A file's old
// points are deleted before its new ones are written, and its cache entry
// is only updated after the upsert succeeds. Files that disappeared since
// the last scan are removed from the store and the cache.
//
// Watcher follows the workspace with fsnotify. Events are collected for
// DefaultBatchWindow and then handed to Scanner.IndexFiles.
//
// Point ids are v5 UUIDs of the block's segment hash, so re-indexing an
// unchanged block overwrites the same point.
package indexer
