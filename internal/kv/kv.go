// Package kv is the ordered key/value storage the session adapter writes
// through. Records live in named buckets under uint64 keys.
package kv

import (
	"encoding/binary"
	"errors"
)

var (
	ErrTxClosed = errors.New("kv: transaction closed")
	ErrReadOnly = errors.New("kv: transaction is read-only")
)

// Store opens transactions. Drivers allow a single writable transaction at
// a time; Begin(true) blocks while another one is open.
type Store interface {
	Begin(writable bool) (Tx, error)
	Close() error
}

// Tx is a consistent view of the store. Writes become visible to other
// transactions on Commit.
type Tx interface {
	// Get returns nil when the record does not exist.
	Get(bucket string, key uint64) ([]byte, error)
	Put(bucket string, key uint64, value []byte) error
	// Delete is a no-op for missing records.
	Delete(bucket string, key uint64) error
	// Scan calls fn for each record of bucket in key order until fn returns
	// false. value is only valid during the call.
	Scan(bucket string, fn func(key uint64, value []byte) bool) error
	// NextSequence returns the next key of bucket, starting at 1.
	NextSequence(bucket string) (uint64, error)
	Commit() error
	Rollback() error
}

// EncodeKey encodes key so that byte order matches numeric order.
func EncodeKey(key uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, key)
	return b
}

func DecodeKey(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
