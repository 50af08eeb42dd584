package common

import "sync"

// KeyMutex provides an independent mutex per key. It is used to serialize
// operations that must not interleave for the same group (membership
// mutation vs. message submission) while leaving unrelated groups free to
// proceed concurrently.
//
// Locks are created on first use and kept for the life of the process; the
// key space here (group ids) is small enough that no eviction is needed.
type KeyMutex[K comparable] struct {
	mu    sync.Mutex
	locks map[K]*sync.Mutex
}

func NewKeyMutex[K comparable]() *KeyMutex[K] {
	return &KeyMutex[K]{locks: make(map[K]*sync.Mutex)}
}

func (m *KeyMutex[K]) get(key K) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// Lock acquires the mutex for key, blocking until it is available.
func (m *KeyMutex[K]) Lock(key K) {
	m.get(key).Lock()
}

// Unlock releases the mutex for key. Unlocking a key that was never locked
// panics, same as sync.Mutex.
func (m *KeyMutex[K]) Unlock(key K) {
	m.get(key).Unlock()
}
