package devicestore

import "sync"

// keyedMutex serializes mutations per device id so two concurrent
// verifications for the same device cannot interleave their
// read-modify-write cycles. Locks for different devices never contend.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// Lock acquires the mutex for a key and returns its unlock function.
// Per-device mutexes are retained for the process lifetime; the map is
// bounded by the number of devices this node has touched.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}
