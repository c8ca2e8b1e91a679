package storekit

import "sync"

// keyMutex provides a mutex per storage key so that operations on the same
// key serialize while operations on disjoint keys proceed concurrently.
type keyMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLockEntry
}

type keyLockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyMutex() *keyMutex {
	return &keyMutex{locks: make(map[string]*keyLockEntry)}
}

// Lock acquires the mutex for key, creating it on first use.
func (km *keyMutex) Lock(key string) {
	km.mu.Lock()
	entry, ok := km.locks[key]
	if !ok {
		entry = &keyLockEntry{}
		km.locks[key] = entry
	}
	entry.refs++
	km.mu.Unlock()

	entry.mu.Lock()
}

// Unlock releases the mutex for key and drops the entry once no goroutine
// holds or waits on it.
func (km *keyMutex) Unlock(key string) {
	km.mu.Lock()
	entry, ok := km.locks[key]
	if ok {
		entry.refs--
		if entry.refs == 0 {
			delete(km.locks, key)
		}
	}
	km.mu.Unlock()

	if ok {
		entry.mu.Unlock()
	}
}

// LockAll acquires the mutexes for every key in the given order. Callers must
// pass keys in a globally consistent order (sorted) to stay deadlock-free.
func (km *keyMutex) LockAll(keys []string) {
	for _, k := range keys {
		km.Lock(k)
	}
}

// UnlockAll releases the mutexes for every key in reverse order.
func (km *keyMutex) UnlockAll(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		km.Unlock(keys[i])
	}
}
