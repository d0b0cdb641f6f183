// Package boltkv implements kv.Store on a bolt database file.
package boltkv

import (
	"errors"
	"fmt"
	"time"

	"github.com/boltdb/bolt"
	"github.com/cloo-solutions/repokit/internal/kv"
)

var _ kv.Store = (*Store)(nil)

type Store struct {
	db *bolt.DB
}

// Open opens or creates the bolt file at path. It fails after a second
// when another process holds the file lock.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltkv: open %s: %w", path, err)
	}
	return New(db), nil
}

func New(db *bolt.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Begin(writable bool) (kv.Tx, error) {
	btx, err := s.db.Begin(writable)
	if err != nil {
		return nil, fmt.Errorf("boltkv: begin: %w", err)
	}
	return &tx{tx: btx}, nil
}

// Close the database and release the file lock
func (s *Store) Close() error {
	return s.db.Close()
}

type tx struct {
	tx     *bolt.Tx
	closed bool
}

func (t *tx) Get(bucket string, key uint64) ([]byte, error) {
	if t.closed {
		return nil, kv.ErrTxClosed
	}
	b := t.tx.Bucket([]byte(bucket))
	if b == nil {
		return nil, nil
	}
	v := b.Get(kv.EncodeKey(key))
	if v == nil {
		return nil, nil
	}
	// bolt values are only valid for the life of the transaction
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (t *tx) Put(bucket string, key uint64, value []byte) error {
	b, err := t.writableBucket(bucket)
	if err != nil {
		return err
	}
	return b.Put(kv.EncodeKey(key), value)
}

func (t *tx) Delete(bucket string, key uint64) error {
	if t.closed {
		return kv.ErrTxClosed
	}
	if !t.tx.Writable() {
		return kv.ErrReadOnly
	}
	b := t.tx.Bucket([]byte(bucket))
	if b == nil {
		return nil
	}
	return b.Delete(kv.EncodeKey(key))
}

func (t *tx) Scan(bucket string, fn func(key uint64, value []byte) bool) error {
	if t.closed {
		return kv.ErrTxClosed
	}
	b := t.tx.Bucket([]byte(bucket))
	if b == nil {
		return nil
	}
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if !fn(kv.DecodeKey(k), v) {
			return nil
		}
	}
	return nil
}

func (t *tx) NextSequence(bucket string) (uint64, error) {
	b, err := t.writableBucket(bucket)
	if err != nil {
		return 0, err
	}
	return b.NextSequence()
}

func (t *tx) Commit() error {
	if t.closed {
		return kv.ErrTxClosed
	}
	t.closed = true
	if t.tx.Writable() {
		return mapErr(t.tx.Commit())
	}
	// read-only bolt transactions cannot commit, only be released
	return mapErr(t.tx.Rollback())
}

func (t *tx) Rollback() error {
	if t.closed {
		return kv.ErrTxClosed
	}
	t.closed = true
	return mapErr(t.tx.Rollback())
}

func (t *tx) writableBucket(bucket string) (*bolt.Bucket, error) {
	if t.closed {
		return nil, kv.ErrTxClosed
	}
	if !t.tx.Writable() {
		return nil, kv.ErrReadOnly
	}
	return t.tx.CreateBucketIfNotExists([]byte(bucket))
}

func mapErr(err error) error {
	if errors.Is(err, bolt.ErrTxClosed) {
		return kv.ErrTxClosed
	}
	return err
}
