package identity

import (
	"context"
	"testing"

	"github.com/Lumiport-Network/relay/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateShape(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)
	assert.True(t, id.Valid())
	assert.Len(t, string(id), 20)
}

func TestLoadOrCreateIsStable(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	first, err := LoadOrCreate(ctx, st)
	require.NoError(t, err)
	require.True(t, first.Valid())

	second, err := LoadOrCreate(ctx, st)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLoadOrCreateRegeneratesCorruptValue(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	require.NoError(t, st.Set(ctx, store.KeyInstanceID, []byte("garbage")))

	id, err := LoadOrCreate(ctx, st)
	require.NoError(t, err)
	assert.True(t, id.Valid())

	// The regenerated id was persisted.
	raw, found, err := st.Get(ctx, store.KeyInstanceID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, string(id), string(raw))
}

func TestValid(t *testing.T) {
	assert.True(t, InstanceID("lmp-0123456789abcdef").Valid())
	assert.False(t, InstanceID("lmp-short").Valid())
	assert.False(t, InstanceID("xyz-0123456789abcdef").Valid())
	assert.False(t, InstanceID("lmp-0123456789abcdeg").Valid(), "non-hex suffix")
	assert.False(t, InstanceID("").Valid())
}
