package indexer

import "sync/atomic"

// IndexLock guards a workspace against concurrent indexing runs. It never
// blocks: a caller that loses TryAcquire reports the run as busy.
type IndexLock struct {
	held atomic.Bool
}

// TryAcquire takes the lock if it is free
func (l *IndexLock) TryAcquire() bool {
	return l.held.CompareAndSwap(false, true)
}

// Release frees the lock. Only the holder may call it.
func (l *IndexLock) Release() {
	l.held.Store(false)
}

// Held reports whether a run is in progress
func (l *IndexLock) Held() bool {
	return l.held.Load()
}
