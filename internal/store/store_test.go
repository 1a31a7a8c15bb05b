package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeContract exercises the behavior every backend must share.
func storeContract(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	_, found, err := st.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, st.Set(ctx, "directory/saved_servers", []byte(`["a"]`)))
	require.NoError(t, st.Set(ctx, "directory/preferred", []byte("wss://x")))
	require.NoError(t, st.Set(ctx, "access/config", []byte(`{}`)))

	v, found, err := st.Get(ctx, "directory/saved_servers")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte(`["a"]`), v)

	// Overwrite.
	require.NoError(t, st.Set(ctx, "directory/preferred", []byte("wss://y")))
	v, _, err = st.Get(ctx, "directory/preferred")
	require.NoError(t, err)
	assert.Equal(t, []byte("wss://y"), v)

	keys, err := st.List(ctx, "directory/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"directory/saved_servers", "directory/preferred"}, keys)

	require.NoError(t, st.Delete(ctx, "directory/preferred"))
	_, found, err = st.Get(ctx, "directory/preferred")
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting a missing key is not an error.
	require.NoError(t, st.Delete(ctx, "directory/preferred"))
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemory())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	st, err := NewFile(path)
	require.NoError(t, err)
	storeContract(t, st)
}

func TestFileStorePersistsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	st1, err := NewFile(path)
	require.NoError(t, err)
	require.NoError(t, st1.Set(ctx, "identity/instance_id", []byte("lmp-0123456789abcdef")))
	require.NoError(t, st1.Close())

	st2, err := NewFile(path)
	require.NoError(t, err)
	v, found, err := st2.Get(ctx, "identity/instance_id")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("lmp-0123456789abcdef"), v)
}

func TestFileStoreBinaryValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	st, err := NewFile(path)
	require.NoError(t, err)

	blob := []byte{0x00, 0xFF, 0x10, 0x80, '"', '\n'}
	require.NoError(t, st.Set(ctx, "blob", blob))

	st2, err := NewFile(path)
	require.NoError(t, err)
	v, found, err := st2.Get(ctx, "blob")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, blob, v)
}
