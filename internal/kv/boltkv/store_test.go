package boltkv

import (
	"path/filepath"
	"testing"

	"github.com/cloo-solutions/repokit/internal/kv"
	"github.com/cloo-solutions/repokit/internal/kv/kvtest"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) kv.Store {
		s, err := Open(filepath.Join(t.TempDir(), "kv.bolt"))
		require.NoError(t, err)
		return s
	})
}

func TestOpen_BadPath(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing", "dir", "kv.bolt"))
	require.Error(t, err)
}
