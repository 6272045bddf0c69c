package kvstore

import (
	"sort"
	"strings"
	"sync"
)

// MemoryStore is a map-backed Store for tests and ephemeral runs. Writers see their
// own pending changes; other transactions see them only after Commit.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Begin(update bool) (Tx, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}
	return &memoryTx{store: s, update: update, pending: make(map[string][]byte), deleted: make(map[string]bool)}, nil
}

func (s *MemoryStore) View(fn func(Txn) error) error { return view(s, fn) }

func (s *MemoryStore) Update(fn func(Txn) error) error { return update(s, fn) }

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Len returns the number of committed keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

type memoryTx struct {
	store   *MemoryStore
	update  bool
	done    bool
	pending map[string][]byte
	deleted map[string]bool
}

func (t *memoryTx) Get(key string) ([]byte, bool, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, false, err
	}
	ks := string(k)
	if t.deleted[ks] {
		return nil, false, nil
	}
	if v, ok := t.pending[ks]; ok {
		return append([]byte(nil), v...), true, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	v, ok := t.store.data[ks]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (t *memoryTx) Set(key string, val []byte) error {
	if !t.update {
		return ErrReadOnly
	}
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	delete(t.deleted, string(k))
	t.pending[string(k)] = append([]byte(nil), val...)
	return nil
}

func (t *memoryTx) Delete(key string) error {
	if !t.update {
		return ErrReadOnly
	}
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	delete(t.pending, string(k))
	t.deleted[string(k)] = true
	return nil
}

func (t *memoryTx) Iterate(prefix, startAfter string, fn func(key string, val []byte) (bool, error)) error {
	merged := make(map[string][]byte)
	t.store.mu.RLock()
	for k, v := range t.store.data {
		if strings.HasPrefix(k, prefix) {
			merged[k] = v
		}
	}
	t.store.mu.RUnlock()
	for k, v := range t.pending {
		if strings.HasPrefix(k, prefix) {
			merged[k] = v
		}
	}
	for k := range t.deleted {
		delete(merged, k)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		if startAfter != "" && k <= startAfter {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		more, err := fn(k, append([]byte(nil), merged[k]...))
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func (t *memoryTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	if !t.update {
		return nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.store.closed {
		return ErrClosed
	}
	for k := range t.deleted {
		delete(t.store.data, k)
	}
	for k, v := range t.pending {
		t.store.data[k] = v
	}
	return nil
}

func (t *memoryTx) Discard() {
	t.done = true
}

var _ Store = (*MemoryStore)(nil)
