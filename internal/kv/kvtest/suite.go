// Package kvtest holds the behaviour every kv.Store driver must show.
package kvtest

import (
	"testing"

	"github.com/cloo-solutions/repokit/internal/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Run executes the suite against stores returned by open. The suite closes
// them.
func Run(t *testing.T, open func(t *testing.T) kv.Store) {
	t.Run("put get delete", func(t *testing.T) {
		s := newStore(t, open)

		tx, err := s.Begin(true)
		require.NoError(t, err)
		require.NoError(t, tx.Put("notes", 1, []byte("one")))

		v, err := tx.Get("notes", 1)
		require.NoError(t, err)
		assert.Equal(t, []byte("one"), v)

		v, err = tx.Get("notes", 2)
		require.NoError(t, err)
		assert.Nil(t, v)

		require.NoError(t, tx.Delete("notes", 1))
		require.NoError(t, tx.Delete("notes", 42))
		v, err = tx.Get("notes", 1)
		require.NoError(t, err)
		assert.Nil(t, v)
		require.NoError(t, tx.Commit())
	})

	t.Run("commit makes writes visible", func(t *testing.T) {
		s := newStore(t, open)

		tx, err := s.Begin(true)
		require.NoError(t, err)
		require.NoError(t, tx.Put("notes", 7, []byte("seven")))
		require.NoError(t, tx.Commit())

		read, err := s.Begin(false)
		require.NoError(t, err)
		defer read.Rollback()
		v, err := read.Get("notes", 7)
		require.NoError(t, err)
		assert.Equal(t, []byte("seven"), v)
	})

	t.Run("rollback drops writes", func(t *testing.T) {
		s := newStore(t, open)

		tx, err := s.Begin(true)
		require.NoError(t, err)
		require.NoError(t, tx.Put("notes", 1, []byte("lost")))
		require.NoError(t, tx.Rollback())

		read, err := s.Begin(false)
		require.NoError(t, err)
		defer read.Rollback()
		v, err := read.Get("notes", 1)
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("scan is ordered and sees own writes", func(t *testing.T) {
		s := newStore(t, open)

		tx, err := s.Begin(true)
		require.NoError(t, err)
		for _, k := range []uint64{300, 2, 1} {
			require.NoError(t, tx.Put("notes", k, []byte{byte(k)}))
		}
		require.NoError(t, tx.Put("other", 5, []byte("x")))
		require.NoError(t, tx.Commit())

		tx, err = s.Begin(true)
		require.NoError(t, err)
		defer tx.Rollback()
		require.NoError(t, tx.Delete("notes", 2))
		require.NoError(t, tx.Put("notes", 3, []byte{3}))

		var keys []uint64
		require.NoError(t, tx.Scan("notes", func(key uint64, _ []byte) bool {
			keys = append(keys, key)
			return true
		}))
		assert.Equal(t, []uint64{1, 3, 300}, keys)

		keys = nil
		require.NoError(t, tx.Scan("notes", func(key uint64, _ []byte) bool {
			keys = append(keys, key)
			return false
		}))
		assert.Equal(t, []uint64{1}, keys)

		require.NoError(t, tx.Scan("missing", func(uint64, []byte) bool {
			t.Fatal("empty bucket must not call fn")
			return false
		}))
	})

	t.Run("sequence survives commit", func(t *testing.T) {
		s := newStore(t, open)

		tx, err := s.Begin(true)
		require.NoError(t, err)
		a, err := tx.NextSequence("notes")
		require.NoError(t, err)
		b, err := tx.NextSequence("notes")
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
		assert.Equal(t, uint64(1), a)
		assert.Equal(t, uint64(2), b)

		tx, err = s.Begin(true)
		require.NoError(t, err)
		c, err := tx.NextSequence("notes")
		require.NoError(t, err)
		require.NoError(t, tx.Commit())
		assert.Equal(t, uint64(3), c)
	})

	t.Run("read-only transaction rejects writes", func(t *testing.T) {
		s := newStore(t, open)

		tx, err := s.Begin(false)
		require.NoError(t, err)
		defer tx.Rollback()

		assert.ErrorIs(t, tx.Put("notes", 1, nil), kv.ErrReadOnly)
		assert.ErrorIs(t, tx.Delete("notes", 1), kv.ErrReadOnly)
		_, err = tx.NextSequence("notes")
		assert.ErrorIs(t, err, kv.ErrReadOnly)
	})

	t.Run("closed transaction rejects use", func(t *testing.T) {
		s := newStore(t, open)

		tx, err := s.Begin(true)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		assert.ErrorIs(t, tx.Commit(), kv.ErrTxClosed)
		assert.ErrorIs(t, tx.Rollback(), kv.ErrTxClosed)
		_, err = tx.Get("notes", 1)
		assert.ErrorIs(t, err, kv.ErrTxClosed)
		assert.ErrorIs(t, tx.Put("notes", 1, nil), kv.ErrTxClosed)
	})
}

func newStore(t *testing.T, open func(t *testing.T) kv.Store) kv.Store {
	t.Helper()
	s := open(t)
	t.Cleanup(func() { _ = s.Close() })
	return s
}
