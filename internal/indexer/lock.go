package indexer

import "sync/atomic"

// IndexLock guards against overlapping ingestion runs. Callers that fail
// TryAcquire report the run as busy instead of waiting.
type IndexLock struct {
	held atomic.Bool
}

// TryAcquire takes the lock if it is free and reports whether it did
func (l *IndexLock) TryAcquire() bool {
	return l.held.CompareAndSwap(false, true)
}

// Release frees the lock. Only the holder may call it.
func (l *IndexLock) Release() {
	l.held.Store(false)
}

// Held reports whether an ingestion run currently holds the lock
func (l *IndexLock) Held() bool {
	return l.held.Load()
}
