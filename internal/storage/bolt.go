package storage

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltStorage implements Storage with one bbolt bucket per table.
type BoltStorage struct {
	db *bolt.DB
}

// NewBoltStorage opens or creates the bbolt file at path.
func NewBoltStorage(path string) (*BoltStorage, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for table := range TableCount {
			if _, err := tx.CreateBucketIfNotExists(bucketName(table)); err != nil {
				return fmt.Errorf("create bucket %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStorage{db: db}, nil
}

func bucketName(table Table) []byte {
	return []byte(table.String())
}

// Begin starts a new transaction
func (s *BoltStorage) Begin(writable bool) (Txn, error) {
	tx, err := s.db.Begin(writable)
	if err != nil {
		return nil, err
	}
	return &boltTxn{tx: tx}, nil
}

// Close closes the storage
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

// Sync flushes writes to disk
func (s *BoltStorage) Sync() error {
	return s.db.Sync()
}

type boltTxn struct {
	tx *bolt.Tx
}

func (t *boltTxn) bucket(table Table) *bolt.Bucket {
	return t.tx.Bucket(bucketName(table))
}

// Get copies the value out, since bbolt memory is only valid inside the
// transaction.
func (t *boltTxn) Get(table Table, key []byte) ([]byte, error) {
	v := t.bucket(table).Get(key)
	if v == nil {
		return nil, ErrNotFound
	}
	return bytes.Clone(v), nil
}

func (t *boltTxn) Set(table Table, key, value []byte) error {
	if !t.tx.Writable() {
		return ErrTransactionRO
	}
	if value == nil {
		value = []byte{}
	}
	return t.bucket(table).Put(key, value)
}

func (t *boltTxn) Delete(table Table, key []byte) error {
	if !t.tx.Writable() {
		return ErrTransactionRO
	}
	return t.bucket(table).Delete(key)
}

func (t *boltTxn) Scan(table Table, start, end []byte) (Iterator, error) {
	return &boltIterator{
		cursor: t.bucket(table).Cursor(),
		start:  start,
		end:    end,
	}, nil
}

func (t *boltTxn) Commit() error {
	return t.tx.Commit()
}

func (t *boltTxn) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, bolt.ErrTxClosed) {
		return err
	}
	return nil
}

type boltIterator struct {
	cursor     *bolt.Cursor
	start, end []byte
	started    bool
	key, value []byte
}

func (i *boltIterator) Next() bool {
	var k, v []byte
	switch {
	case i.started:
		k, v = i.cursor.Next()
	case i.start != nil:
		k, v = i.cursor.Seek(i.start)
	default:
		k, v = i.cursor.First()
	}
	i.started = true

	if k == nil || (i.end != nil && bytes.Compare(k, i.end) >= 0) {
		i.key, i.value = nil, nil
		return false
	}
	i.key, i.value = k, v
	return true
}

func (i *boltIterator) Key() []byte {
	return bytes.Clone(i.key)
}

func (i *boltIterator) Value() ([]byte, error) {
	if i.key == nil {
		return nil, ErrNotFound
	}
	return bytes.Clone(i.value), nil
}

// Close is a no-op; the cursor lives as long as its transaction.
func (i *boltIterator) Close() error {
	return nil
}
