package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Database {
	t.Helper()
	dir := t.TempDir()
	level, err := NewLevelDB(filepath.Join(dir, "level"))
	require.NoError(t, err)
	bolt, err := NewBoltDB(filepath.Join(dir, "fusion.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = level.Close()
		_ = bolt.Close()
	})
	return map[string]Database{
		"memory":  NewMemDB(),
		"leveldb": level,
		"bolt":    bolt,
	}
}

func TestDatabaseBatchIsApplied(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Put([]byte("k/stale"), []byte("old")))

			batch := new(Batch)
			batch.Put([]byte("k/a"), []byte("1"))
			batch.Put([]byte("k/b"), []byte("2"))
			batch.Delete([]byte("k/stale"))
			require.Equal(t, 3, batch.Len())
			require.NoError(t, db.Write(batch))

			value, err := db.Get([]byte("k/a"))
			require.NoError(t, err)
			require.Equal(t, []byte("1"), value)

			_, err = db.Get([]byte("k/stale"))
			require.True(t, errors.Is(err, ErrNotFound), "expected ErrNotFound, got %v", err)

			has, err := db.Has([]byte("k/b"))
			require.NoError(t, err)
			require.True(t, has)
		})
	}
}

func TestDatabaseIteratePrefix(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, db.Put([]byte("a/2"), []byte("two")))
			require.NoError(t, db.Put([]byte("a/1"), []byte("one")))
			require.NoError(t, db.Put([]byte("b/1"), []byte("other")))

			var keys []string
			require.NoError(t, db.Iterate([]byte("a/"), func(key, _ []byte) bool {
				keys = append(keys, string(key))
				return true
			}))
			require.Equal(t, []string{"a/1", "a/2"}, keys)
		})
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	_, err := Open("redis", "")
	require.Error(t, err)
	db, err := Open("", "")
	require.NoError(t, err)
	require.NoError(t, db.Close())
}
