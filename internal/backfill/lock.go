package backfill

import "sync/atomic"

// TryLocker is a non-blocking lock. SyncAll holds one for the length of a run.
type TryLocker interface {
	TryAcquire() bool
	Release()
}

// IndexLock provides non-blocking lock semantics using atomic operations.
// The zero value is unlocked.
type IndexLock struct {
	state atomic.Int32 // 0 = unlocked, 1 = locked
}

// TryAcquire attempts to acquire the lock without blocking.
// Returns true if the lock was successfully acquired, false otherwise.
func (l *IndexLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release releases the lock.
// Must only be called by the holder that successfully acquired it.
func (l *IndexLock) Release() {
	l.state.Store(0)
}

// Held reports whether the lock is currently taken
func (l *IndexLock) Held() bool {
	return l.state.Load() == 1
}
