// Package storage is the key/value layer under the loopback statement
// server.
package storage

import (
	"encoding/binary"
	"errors"
)

var (
	ErrNotFound      = errors.New("key not found")
	ErrTransactionRO = errors.New("transaction is read-only")
)

// Storage is the interface for the underlying key-value store
type Storage interface {
	// Begin starts a new transaction
	Begin(writable bool) (Txn, error)

	// Close closes the storage
	Close() error

	// Sync flushes writes to disk
	Sync() error
}

// Txn is a transaction with snapshot isolation.
type Txn interface {
	Get(table Table, key []byte) ([]byte, error)
	Set(table Table, key, value []byte) error
	Delete(table Table, key []byte) error

	// Scan iterates over the keys of table in [start, end). A nil start
	// begins at the first key, a nil end runs to the last.
	Scan(table Table, start, end []byte) (Iterator, error)

	Commit() error
	Rollback() error
}

// Iterator iterates over key-value pairs of one table.
type Iterator interface {
	Next() bool
	// Key returns the current key without the table prefix.
	Key() []byte
	Value() ([]byte, error)
	Close() error
}

// Table namespaces keys inside the store.
type Table byte

const (
	// TableStatements maps a handle to its serialized triple.
	TableStatements Table = iota
	// TableLog maps a sequence number to a handle, in insertion order.
	TableLog
	// TableHandles maps a handle to its sequence number.
	TableHandles
	// TableFiles maps a blob reference and a serialized file to nothing.
	TableFiles
	// TableMeta holds counters.
	TableMeta

	TableCount
)

func (t Table) String() string {
	switch t {
	case TableStatements:
		return "statements"
	case TableLog:
		return "log"
	case TableHandles:
		return "handles"
	case TableFiles:
		return "files"
	case TableMeta:
		return "meta"
	default:
		return "unknown"
	}
}

// TablePrefix returns a byte prefix for a table to namespace keys
func TablePrefix(table Table) []byte {
	return []byte{byte(table)}
}

// PrefixKey adds a table prefix to a key
func PrefixKey(table Table, key []byte) []byte {
	result := make([]byte, 1+len(key))
	result[0] = byte(table)
	copy(result[1:], key)
	return result
}

// Uint64Key encodes n so that byte order matches numeric order.
func Uint64Key(n uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, n)
}

// ParseUint64Key decodes a key written by Uint64Key.
func ParseUint64Key(key []byte) (uint64, bool) {
	if len(key) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key), true
}

// View runs fn in a read-only transaction.
func View(s Storage, fn func(Txn) error) error {
	txn, err := s.Begin(false)
	if err != nil {
		return err
	}
	defer txn.Rollback()
	return fn(txn)
}

// Update runs fn in a writable transaction and commits it if fn succeeds.
func Update(s Storage, fn func(Txn) error) error {
	txn, err := s.Begin(true)
	if err != nil {
		return err
	}
	if err := fn(txn); err != nil {
		txn.Rollback()
		return err
	}
	return txn.Commit()
}

// NextSequence increments and returns the counter stored under name.
func NextSequence(txn Txn, name string) (uint64, error) {
	var n uint64
	data, err := txn.Get(TableMeta, []byte(name))
	switch {
	case err == nil:
		var ok bool
		if n, ok = ParseUint64Key(data); !ok {
			return 0, errors.New("corrupt sequence " + name)
		}
	case !errors.Is(err, ErrNotFound):
		return 0, err
	}
	n++
	if err := txn.Set(TableMeta, []byte(name), Uint64Key(n)); err != nil {
		return 0, err
	}
	return n, nil
}
