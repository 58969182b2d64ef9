package lease

import (
	"context"
	"errors"
)

var (
	// ErrSlotConflict means another session holds a live lease overlapping
	// the requested range. Deliberately carries no detail about the holder.
	ErrSlotConflict = errors.New("slot is held by another booking session")

	// ErrLeaseExpired means the referenced lease is no longer live or was
	// never there. The caller's selection is lost and must be re-acquired.
	ErrLeaseExpired = errors.New("lease expired or not found")

	// ErrUnauthorized means the session id does not match the lease owner.
	// The lease is left untouched.
	ErrUnauthorized = errors.New("session does not own lease")

	// ErrInvalidSlotRange means slot_start >= slot_end.
	ErrInvalidSlotRange = errors.New("slot start must precede slot end")
)

// Store is the keyed storage for active leases. Implementations must make
// Acquire atomic per owner-key: two concurrent acquisitions for overlapping
// ranges may never both succeed, with no read-modify-write window.
type Store interface {
	// Acquire inserts the lease unless a live lease owned by a different
	// session overlaps it, in which case it returns ErrSlotConflict and
	// mutates nothing. Expired entries encountered during the conflict
	// check may be purged as a side effect.
	Acquire(ctx context.Context, l *Lease) error

	// Extend sets the lease expiry to expiresAt (it never shortens an
	// expiry) and returns the resulting value. Returns ErrLeaseExpired if
	// the lease is gone or no longer live, ErrUnauthorized on a session
	// mismatch.
	Extend(ctx context.Context, tenantID, leaseID, sessionID string, expiresAt int64) (int64, error)

	// Release removes the lease. Releasing a missing or expired lease is a
	// no-op success. A session mismatch on a live lease returns
	// ErrUnauthorized and leaves the lease intact.
	Release(ctx context.Context, tenantID, leaseID, sessionID string) error

	// ReleaseSession removes every live lease owned by the session within
	// the tenant, except the one named by exceptLeaseID (pass "" to remove
	// all). Returns the number of leases released.
	ReleaseSession(ctx context.Context, tenantID, sessionID, exceptLeaseID string) (int, error)

	// PurgeExpired removes expired entries across all tenants and returns
	// how many were dropped. Purely storage hygiene: conflict checks
	// already ignore expired entries.
	PurgeExpired(ctx context.Context) (int, error)
}
