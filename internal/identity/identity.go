// Package identity manages the persistent instance id this relay uses
// to identify itself, e.g. as the reporter id on trust reports.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/Lumiport-Network/relay/internal/store"
)

// IDPrefix namespaces Lumiport instance ids.
const IDPrefix = "lmp-"

// InstanceID is a stable random identifier, created once per install
// and persisted through the injected store.
type InstanceID string

// Generate creates a fresh instance id.
func Generate() (InstanceID, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate instance id: %w", err)
	}
	return InstanceID(IDPrefix + hex.EncodeToString(buf)), nil
}

// LoadOrCreate returns the persisted instance id, creating and storing
// a new one on first run.
func LoadOrCreate(ctx context.Context, st store.Store) (InstanceID, error) {
	raw, ok, err := st.Get(ctx, store.KeyInstanceID)
	if err != nil {
		return "", fmt.Errorf("load instance id: %w", err)
	}
	if ok {
		id := InstanceID(strings.TrimSpace(string(raw)))
		if id.Valid() {
			return id, nil
		}
		// Corrupt value: fall through and regenerate.
	}

	id, err := Generate()
	if err != nil {
		return "", err
	}
	if err := st.Set(ctx, store.KeyInstanceID, []byte(id)); err != nil {
		return "", fmt.Errorf("persist instance id: %w", err)
	}
	return id, nil
}

// Valid reports whether the id has the expected shape.
func (id InstanceID) Valid() bool {
	s := string(id)
	if !strings.HasPrefix(s, IDPrefix) || len(s) != len(IDPrefix)+16 {
		return false
	}
	_, err := hex.DecodeString(s[len(IDPrefix):])
	return err == nil
}

func (id InstanceID) String() string { return string(id) }
