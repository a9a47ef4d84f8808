package server

import "sync"

// nameLocks hands out one RWMutex per stored file name. Uploads take the
// write side, downloads the read side. Entries are dropped once unused.
type nameLocks struct {
	mu    sync.Mutex
	locks map[string]*nameLock
}

type nameLock struct {
	sync.RWMutex
	refs int
}

func newNameLocks() *nameLocks {
	return &nameLocks{locks: make(map[string]*nameLock)}
}

func (n *nameLocks) acquire(name string) *nameLock {
	n.mu.Lock()
	defer n.mu.Unlock()

	l, ok := n.locks[name]
	if !ok {
		l = &nameLock{}
		n.locks[name] = l
	}
	l.refs++
	return l
}

func (n *nameLocks) release(name string, l *nameLock) {
	n.mu.Lock()
	defer n.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(n.locks, name)
	}
}

// Lock takes exclusive access to name and returns the unlock function.
func (n *nameLocks) Lock(name string) func() {
	l := n.acquire(name)
	l.Lock()
	return func() {
		l.Unlock()
		n.release(name, l)
	}
}

// RLock takes shared access to name and returns the unlock function.
func (n *nameLocks) RLock(name string) func() {
	l := n.acquire(name)
	l.RLock()
	return func() {
		l.RUnlock()
		n.release(name, l)
	}
}

func (n *nameLocks) size() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.locks)
}
