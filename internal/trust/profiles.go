package trust

import (
	"context"
	"encoding/json"
	"sync"

	apperrors "github.com/Lumiport-Network/relay/internal/errors"
	"github.com/Lumiport-Network/relay/internal/logger"
	"github.com/Lumiport-Network/relay/internal/store"
	"go.uber.org/zap"
)

// Profiles persists this host's verification profile through the
// injected store. Mutation is host-only; connecting clients only ever
// see the derived score and level.
type Profiles struct {
	st  store.Store
	log *zap.Logger

	mu sync.Mutex
}

// NewProfiles builds the profile store around the shared KV store.
func NewProfiles(st store.Store) *Profiles {
	return &Profiles{
		st:  st,
		log: logger.New("trust_profiles"),
	}
}

// Load returns the persisted profile. A missing key yields the zero
// profile; a corrupt value is logged and treated as missing.
func (p *Profiles) Load(ctx context.Context) (VerificationProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loadLocked(ctx)
}

// Save replaces the persisted profile.
func (p *Profiles) Save(ctx context.Context, profile VerificationProfile) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saveLocked(ctx, profile)
}

// Update applies fn to the stored profile and persists the result,
// serialized against concurrent updates.
func (p *Profiles) Update(ctx context.Context, fn func(*VerificationProfile)) (VerificationProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	profile, err := p.loadLocked(ctx)
	if err != nil {
		return VerificationProfile{}, err
	}
	fn(&profile)
	if err := p.saveLocked(ctx, profile); err != nil {
		return VerificationProfile{}, err
	}
	return profile, nil
}

func (p *Profiles) loadLocked(ctx context.Context) (VerificationProfile, error) {
	raw, ok, err := p.st.Get(ctx, store.KeyTrustProfile)
	if err != nil {
		return VerificationProfile{}, apperrors.StorageError("load trust profile", err)
	}
	if !ok {
		return VerificationProfile{}, nil
	}

	var profile VerificationProfile
	if err := json.Unmarshal(raw, &profile); err != nil {
		p.log.Warn("Stored trust profile is corrupt, starting fresh", zap.Error(err))
		return VerificationProfile{}, nil
	}
	return profile, nil
}

func (p *Profiles) saveLocked(ctx context.Context, profile VerificationProfile) error {
	raw, err := json.Marshal(profile)
	if err != nil {
		return apperrors.StorageError("encode trust profile", err)
	}
	if err := p.st.Set(ctx, store.KeyTrustProfile, raw); err != nil {
		return apperrors.StorageError("persist trust profile", err)
	}
	return nil
}
