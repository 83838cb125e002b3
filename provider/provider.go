// Package provider defines the byte store persisted snapshots are written to.
//
// Implementations MUST be byte-for-byte transparent: Get returns exactly the
// bytes last passed to Set for the key. The "snapshot:<ns>:" keyspace belongs
// to asyncache; foreign values under it fail wire validation and are deleted
// during hydration.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs. It must be safe for concurrent
// use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value for ttl; ttl <= 0 means no expiry. ok=false means the
	// store refused the write under pressure, which is not an error.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) (ok bool, err error)

	// Del removes a key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
