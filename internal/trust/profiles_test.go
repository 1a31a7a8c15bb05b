package trust

import (
	"context"
	"testing"

	"github.com/Lumiport-Network/relay/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfilesLoadMissingYieldsZeroProfile(t *testing.T) {
	p := NewProfiles(store.NewMemory())

	profile, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, VerificationProfile{}, profile)
	assert.Equal(t, LevelUnverified, profile.Level())
}

func TestProfilesRoundTrip(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()

	saved := VerificationProfile{
		Verified:     true,
		IdentityTier: TierVerified,
		Mastodon:     &ProviderLink{Handle: "@host@example.social", URL: "https://example.social/@host"},
		Github:       &ProviderLink{Handle: "host", URL: "https://github.com/host"},
	}
	require.NoError(t, NewProfiles(st).Save(ctx, saved))

	// A fresh manager over the same store sees the profile, handles
	// and URLs intact.
	loaded, err := NewProfiles(st).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, saved, loaded)
	assert.Equal(t, "@host@example.social", loaded.Mastodon.Handle)
	assert.Equal(t, "https://github.com/host", loaded.Github.URL)

	// The profile lives under its well-known key.
	_, found, err := st.Get(ctx, store.KeyTrustProfile)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestProfilesUpdate(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	p := NewProfiles(st)

	updated, err := p.Update(ctx, func(profile *VerificationProfile) {
		profile.Verified = true
		profile.Twitter = &ProviderLink{Handle: "@host"}
	})
	require.NoError(t, err)
	assert.Equal(t, 35, updated.Score())

	loaded, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, updated, loaded)
}

func TestProfilesCorruptValueStartsFresh(t *testing.T) {
	st := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, st.Set(ctx, store.KeyTrustProfile, []byte("not json")))

	profile, err := NewProfiles(st).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, VerificationProfile{}, profile)
}
