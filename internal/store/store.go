// Package store provides the opaque key-value state store the relay
// core persists through. The shell owns the data; the core only gets
// and sets keys and never assumes a backing format.
package store

import "context"

// Store is the persistence boundary of the relay core. Implementations
// must be safe for concurrent use.
type Store interface {
	// Get returns the value for key. The second return is false when
	// the key is absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set writes the value for key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns all keys with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// Close releases backend resources.
	Close() error
}

// Well-known keys used by the relay core.
const (
	KeySavedServers    = "directory/saved_servers"
	KeyPreferredServer = "directory/preferred_server"
	KeyAccessConfig    = "access/config"
	KeyTrustProfile    = "trust/profile"
	KeyInstanceID      = "identity/instance_id"
)
