package core

import "sync"

// keyedLocks serializes work per conversation id: at most one in-flight
// mutation per id, full parallelism across different ids.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedLocks) get(id string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	lock, ok := k.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[id] = lock
	}
	return lock
}
