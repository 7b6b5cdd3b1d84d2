package state

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sefay/paysync/internal/events"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	logger := events.NewTestLogger(events.ErrorLevel, "text", io.Discard)
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// stores under test share one behavioral contract.
func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": newTestSQLiteStore(t),
	}
}

func TestStoreGetPut(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get("missing")
			assert.ErrorIs(t, err, ErrKeyNotFound)

			require.NoError(t, store.Put("k", "v1"))
			value, err := store.Get("k")
			require.NoError(t, err)
			assert.Equal(t, "v1", value)

			// Put replaces.
			require.NoError(t, store.Put("k", "v2"))
			value, err = store.Get("k")
			require.NoError(t, err)
			assert.Equal(t, "v2", value)
		})
	}
}

func TestStoreDelete(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Put("k", "v"))
			require.NoError(t, store.Delete("k"))

			_, err := store.Get("k")
			assert.ErrorIs(t, err, ErrKeyNotFound)

			// Deleting an absent key is not an error.
			assert.NoError(t, store.Delete("k"))
		})
	}
}

func TestLastCommitIDHelpers(t *testing.T) {
	store := NewMemoryStore()

	_, err := LastCommitID(store, "dev-1")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, SetLastCommitID(store, "dev-1", "c42"))
	require.NoError(t, SetLastCommitID(store, "dev-2", "c7"))

	commitID, err := LastCommitID(store, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "c42", commitID)

	// Per-device isolation.
	commitID, err = LastCommitID(store, "dev-2")
	require.NoError(t, err)
	assert.Equal(t, "c7", commitID)
}

func TestDeviceFromKey(t *testing.T) {
	deviceID, ok := DeviceFromKey("lastCommitId/dev-1")
	assert.True(t, ok)
	assert.Equal(t, "dev-1", deviceID)

	_, ok = DeviceFromKey("other/dev-1")
	assert.False(t, ok)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	logger := events.NewTestLogger(events.ErrorLevel, "text", io.Discard)
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := NewSQLiteStore(path, logger)
	require.NoError(t, err)
	require.NoError(t, SetLastCommitID(store, "dev-1", "c42"))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path, logger)
	require.NoError(t, err)
	defer reopened.Close()

	commitID, err := LastCommitID(reopened, "dev-1")
	require.NoError(t, err)
	assert.Equal(t, "c42", commitID)
}

func TestSQLiteStoreKeys(t *testing.T) {
	store := newTestSQLiteStore(t)

	require.NoError(t, store.Put("b", "2"))
	require.NoError(t, store.Put("a", "1"))

	keys, err := store.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)
}
