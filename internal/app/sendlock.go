package app

import "sync"

// lockTable hands out one mutex per worker so concurrent deliveries to
// the same worker cannot interleave keystrokes, while different
// workers proceed in parallel. Locks are created lazily and released
// when a worker is offboarded, so the table tracks the crew size.
type lockTable struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[string]*sync.Mutex)}
}

func (t *lockTable) get(name string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[name]
	if !ok {
		l = &sync.Mutex{}
		t.locks[name] = l
	}
	return l
}

// do runs fn while holding name's send lock.
func (t *lockTable) do(name string, fn func() error) error {
	l := t.get(name)
	l.Lock()
	defer l.Unlock()
	return fn()
}

// release drops name's lock entry when the worker is offboarded. An
// in-flight do keeps its own reference; later sends mint a fresh lock.
func (t *lockTable) release(name string) {
	t.mu.Lock()
	delete(t.locks, name)
	t.mu.Unlock()
}

// has reports whether a lock entry exists for name.
func (t *lockTable) has(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.locks[name]
	return ok
}
