package revocation

import (
	"context"
	"time"
)

// Store persists revocation entries keyed by credential digest.
//
// Implementations must be safe for concurrent use; the registry is shared
// by every connection task and by the sweep loop.
type Store interface {
	// Put records that the digest is revoked until expiresAt. Re-revoking an
	// already present digest must keep the later of the two expiries.
	Put(ctx context.Context, digest string, expiresAt time.Time) error

	// Get returns the stored expiry for the digest, and whether it exists.
	Get(ctx context.Context, digest string) (time.Time, bool, error)

	// Delete removes a single entry. Absent entries are a no-op.
	Delete(ctx context.Context, digest string) error

	// DeleteExpired removes every entry with expiry at or before now and
	// reports how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
