package media

import "sync"

// keyLock provides at-most-one in-flight execution per normalized target
// identifier. It is advisory only for the filesystem namespace, but it keeps
// two downloads for the same target from interleaving their artifact and
// sweep operations.
type keyLock struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newKeyLock() *keyLock {
	return &keyLock{held: make(map[string]struct{})}
}

// TryAcquire claims key, reporting false when it is already held.
func (l *keyLock) TryAcquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.held[key]; exists {
		return false
	}
	l.held[key] = struct{}{}
	return true
}

// Release frees key. Releasing an unheld key is a no-op.
func (l *keyLock) Release(key string) {
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()
}
