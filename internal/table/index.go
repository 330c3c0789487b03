// Groups base cache ids by primary key and serializes writers per key.

package table

import (
	"slices"
	"sync"
)

// keyIndex maps a primary key to the base cache ids holding its rows.
//
// Ids are appended in allocation order, which is ascending since the cache
// never reuses an id. Not concurrent-safe; guarded by the table lock.
type keyIndex struct {
	byKey map[string][]uint64
}

func newKeyIndex() *keyIndex {
	return &keyIndex{byKey: make(map[string][]uint64)}
}

func (idx *keyIndex) add(key string, id uint64) {
	idx.byKey[key] = append(idx.byKey[key], id)
}

func (idx *keyIndex) ids(key string) []uint64 {
	return idx.byKey[key]
}

// keys returns every indexed key in ascending order.
func (idx *keyIndex) keys() []string {
	out := make([]string, 0, len(idx.byKey))
	for k := range idx.byKey {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func (idx *keyIndex) reset() {
	idx.byKey = make(map[string][]uint64)
}

// keyLocker hands out one mutex per key, dropping it once nobody holds or
// waits for it.
type keyLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// lock blocks until key is held and returns the release function.
func (l *keyLocker) lock(key string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*keyLock)
	}
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyLock{}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		l.mu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
