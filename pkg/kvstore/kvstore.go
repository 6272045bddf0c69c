// Package kvstore is the marketplace's key-value state store: string keys, opaque
// byte values, explicit read-write transactions.
package kvstore

import "errors"

var (
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("kvstore: not opened")
	// ErrEmptyKey rejects blank keys.
	ErrEmptyKey = errors.New("kvstore: key is empty")
	// ErrInvalidKey rejects keys with surrounding whitespace or control characters.
	ErrInvalidKey = errors.New("kvstore: key is not canonical")
	// ErrReadOnly is returned when writing through a read-only transaction.
	ErrReadOnly = errors.New("kvstore: read-only transaction")
)

// Txn is the view of the store a request handler works against.
type Txn interface {
	// Get returns (value, true) or (nil, false) when the key is absent.
	Get(key string) ([]byte, bool, error)
	Set(key string, val []byte) error
	Delete(key string) error
	// Iterate walks keys with prefix in ascending order, starting strictly after
	// startAfter when it is non-empty. fn returns false to stop.
	Iterate(prefix, startAfter string, fn func(key string, val []byte) (bool, error)) error
}

// Tx is a transaction whose commit is controlled by the caller. Discard after
// Commit is a no-op, so `defer tx.Discard()` is always safe.
type Tx interface {
	Txn
	Commit() error
	Discard()
}

// Store opens transactions.
type Store interface {
	Begin(update bool) (Tx, error)
	View(fn func(Txn) error) error
	Update(fn func(Txn) error) error
	Close() error
}

func update(s Store, fn func(Txn) error) error {
	tx, err := s.Begin(true)
	if err != nil {
		return err
	}
	defer tx.Discard()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func view(s Store, fn func(Txn) error) error {
	tx, err := s.Begin(false)
	if err != nil {
		return err
	}
	defer tx.Discard()
	return fn(tx)
}
