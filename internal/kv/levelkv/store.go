// Package levelkv implements kv.Store on goleveldb. A transaction reads
// from a snapshot overlaid with its own writes and applies them as one
// batch on Commit.
package levelkv

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/cloo-solutions/repokit/internal/kv"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var _ kv.Store = (*Store)(nil)

type Store struct {
	db *leveldb.DB
	// writer serializes writable transactions
	writer sync.Mutex
}

func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("levelkv: open %s: %w", path, err)
	}
	return New(db), nil
}

// OpenMemory opens a store that lives in memory only.
func OpenMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("levelkv: open memory store: %w", err)
	}
	return New(db), nil
}

func New(db *leveldb.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Begin(writable bool) (kv.Tx, error) {
	if writable {
		s.writer.Lock()
	}
	snapshot, err := s.db.GetSnapshot()
	if err != nil {
		if writable {
			s.writer.Unlock()
		}
		return nil, fmt.Errorf("levelkv: begin: %w", err)
	}
	return &tx{
		store:    s,
		snapshot: snapshot,
		batch:    new(leveldb.Batch),
		overlay:  make(map[string]pending),
		writable: writable,
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type pending struct {
	value   []byte
	deleted bool
}

type tx struct {
	store    *Store
	snapshot *leveldb.Snapshot
	batch    *leveldb.Batch
	overlay  map[string]pending
	writable bool
	closed   bool
}

func recordPrefix(bucket string) []byte {
	return []byte("r/" + bucket + "/")
}

func recordKey(bucket string, key uint64) []byte {
	return append(recordPrefix(bucket), kv.EncodeKey(key)...)
}

func sequenceKey(bucket string) []byte {
	return []byte("s/" + bucket)
}

func (t *tx) get(k []byte) ([]byte, error) {
	if p, ok := t.overlay[string(k)]; ok {
		if p.deleted {
			return nil, nil
		}
		return slices.Clone(p.value), nil
	}
	v, err := t.snapshot.Get(k, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

func (t *tx) put(k, v []byte) {
	t.overlay[string(k)] = pending{value: slices.Clone(v)}
	t.batch.Put(k, v)
}

func (t *tx) check(write bool) error {
	if t.closed {
		return kv.ErrTxClosed
	}
	if write && !t.writable {
		return kv.ErrReadOnly
	}
	return nil
}

func (t *tx) Get(bucket string, key uint64) ([]byte, error) {
	if err := t.check(false); err != nil {
		return nil, err
	}
	return t.get(recordKey(bucket, key))
}

func (t *tx) Put(bucket string, key uint64, value []byte) error {
	if err := t.check(true); err != nil {
		return err
	}
	t.put(recordKey(bucket, key), value)
	return nil
}

func (t *tx) Delete(bucket string, key uint64) error {
	if err := t.check(true); err != nil {
		return err
	}
	k := recordKey(bucket, key)
	t.overlay[string(k)] = pending{deleted: true}
	t.batch.Delete(k)
	return nil
}

// Scan merges the snapshot with the transaction's own writes.
func (t *tx) Scan(bucket string, fn func(key uint64, value []byte) bool) error {
	if err := t.check(false); err != nil {
		return err
	}
	prefix := recordPrefix(bucket)

	merged := make(map[uint64][]byte)
	it := t.snapshot.NewIterator(util.BytesPrefix(prefix), nil)
	for it.Next() {
		merged[kv.DecodeKey(it.Key()[len(prefix):])] = slices.Clone(it.Value())
	}
	it.Release()
	if err := it.Error(); err != nil {
		return fmt.Errorf("levelkv: scan %s: %w", bucket, err)
	}

	for k, p := range t.overlay {
		if len(k) != len(prefix)+8 || k[:len(prefix)] != string(prefix) {
			continue
		}
		key := kv.DecodeKey([]byte(k[len(prefix):]))
		if p.deleted {
			delete(merged, key)
		} else {
			merged[key] = p.value
		}
	}

	keys := make([]uint64, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if !fn(k, merged[k]) {
			return nil
		}
	}
	return nil
}

func (t *tx) NextSequence(bucket string) (uint64, error) {
	if err := t.check(true); err != nil {
		return 0, err
	}
	k := sequenceKey(bucket)
	v, err := t.get(k)
	if err != nil {
		return 0, err
	}
	var seq uint64
	if len(v) == 8 {
		seq = binary.BigEndian.Uint64(v)
	}
	seq++
	t.put(k, kv.EncodeKey(seq))
	return seq, nil
}

func (t *tx) Commit() error {
	if t.closed {
		return kv.ErrTxClosed
	}
	defer t.close()
	if !t.writable || t.batch.Len() == 0 {
		return nil
	}
	if err := t.store.db.Write(t.batch, nil); err != nil {
		return fmt.Errorf("levelkv: commit: %w", err)
	}
	return nil
}

func (t *tx) Rollback() error {
	if t.closed {
		return kv.ErrTxClosed
	}
	t.batch.Reset()
	t.close()
	return nil
}

func (t *tx) close() {
	t.closed = true
	t.snapshot.Release()
	if t.writable {
		t.store.writer.Unlock()
	}
}
