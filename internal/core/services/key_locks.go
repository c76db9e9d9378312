package services

import (
	"sort"
	"sync"
)

// keyLocks hands out one mutex per key. The zero value is ready to use.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// lock acquires the mutexes of keys in sorted order and returns the
// release func.
func (l *keyLocks) lock(keys ...string) func() {
	if len(keys) == 0 {
		return func() {}
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	acquired := make([]*sync.Mutex, 0, len(sorted))
	for i, k := range sorted {
		if i > 0 && k == sorted[i-1] {
			continue
		}
		m := l.locks[k]
		if m == nil {
			m = &sync.Mutex{}
			l.locks[k] = m
		}
		acquired = append(acquired, m)
	}
	l.mu.Unlock()

	for _, m := range acquired {
		m.Lock()
	}
	return func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].Unlock()
		}
	}
}
