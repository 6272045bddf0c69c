package kvstore

import (
	"errors"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerStore is a Badger-backed Store. Encryption at rest is provided by Badger
// options (value log + key registry), not by this wrapper.
type BadgerStore struct {
	db *badger.DB
}

type OpenOptions struct {
	Path          string
	EncryptionKey []byte // 32 bytes; nil opens without encryption
	ReadOnly      bool
	InMemory      bool
}

func Open(opts OpenOptions) (*BadgerStore, error) {
	if strings.TrimSpace(opts.Path) == "" && !opts.InMemory {
		return nil, errors.New("kvstore: path is required")
	}
	bopts := badger.DefaultOptions(opts.Path).
		WithLogger(nil).
		WithReadOnly(opts.ReadOnly)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	if len(opts.EncryptionKey) > 0 {
		// Badger requires index cache for encrypted workloads
		bopts = bopts.
			WithEncryptionKey(opts.EncryptionKey).
			WithIndexCacheSize(100 << 20) // 100MB
	}
	db, err := badger.Open(bopts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *BadgerStore) Begin(update bool) (Tx, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	return &badgerTx{txn: s.db.NewTransaction(update), update: update}, nil
}

func (s *BadgerStore) View(fn func(Txn) error) error { return view(s, fn) }

func (s *BadgerStore) Update(fn func(Txn) error) error { return update(s, fn) }

type badgerTx struct {
	txn    *badger.Txn
	update bool
	done   bool
}

func (t *badgerTx) Get(key string) ([]byte, bool, error) {
	k, err := cleanKey(key)
	if err != nil {
		return nil, false, err
	}
	item, err := t.txn.Get(k)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (t *badgerTx) Set(key string, val []byte) error {
	if !t.update {
		return ErrReadOnly
	}
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	return t.txn.Set(k, val)
}

func (t *badgerTx) Delete(key string) error {
	if !t.update {
		return ErrReadOnly
	}
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	return t.txn.Delete(k)
}

func (t *badgerTx) Iterate(prefix, startAfter string, fn func(key string, val []byte) (bool, error)) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := t.txn.NewIterator(opts)
	defer it.Close()

	seek := []byte(prefix)
	if startAfter != "" {
		seek = append([]byte(startAfter), 0)
	}
	for it.Seek(seek); it.ValidForPrefix(opts.Prefix); it.Next() {
		item := it.Item()
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		more, err := fn(string(item.KeyCopy(nil)), val)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
	return nil
}

func (t *badgerTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	if !t.update {
		t.txn.Discard()
		return nil
	}
	return t.txn.Commit()
}

func (t *badgerTx) Discard() {
	if t.done {
		return
	}
	t.done = true
	t.txn.Discard()
}

var _ Store = (*BadgerStore)(nil)
