package engine

import "sync"

// keyedLocks is a non-blocking per-key mutual exclusion set. A failed
// TryAcquire means another placement for the same (symbol, side) is in
// flight; the caller records BLOCKED instead of waiting, since the next loop
// iteration re-evaluates anyway.
type keyedLocks struct {
	held sync.Map
}

func (l *keyedLocks) TryAcquire(key string) bool {
	_, loaded := l.held.LoadOrStore(key, struct{}{})
	return !loaded
}

func (l *keyedLocks) Release(key string) {
	l.held.Delete(key)
}
