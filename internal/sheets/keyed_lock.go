package sheets

import "sync"

// keyedLock はキーごとのミューテックス。使われていないキーのエントリは解放する。
type keyedLock[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLock[K comparable]() *keyedLock[K] {
	return &keyedLock[K]{entries: make(map[K]*lockEntry)}
}

// Lock はkeyのロックを取得し、解放関数を返す。
func (k *keyedLock[K]) Lock(key K) (unlock func()) {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &lockEntry{}
		k.entries[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}

// size は保持しているキーの数を返す。
func (k *keyedLock[K]) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
