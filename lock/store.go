package lock

import (
	"context"
	"time"
)

// Record describes a held lock.
type Record struct {
	Name       string    `json:"name"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
	// ExpiresAt is zero for locks without a TTL.
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the record no longer holds at now.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

// Store defines the persistence contract for named locks. AcquireLock must
// be an atomic compare-and-set: of any number of concurrent callers for a
// free (or expired) name, exactly one succeeds.
type Store interface {
	// AcquireLock takes name for holder if it is free or expired. A ttl of
	// zero never expires.
	AcquireLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)

	// ReleaseLock frees name if holder holds it. It reports whether a lock
	// was released.
	ReleaseLock(ctx context.Context, name, holder string) (bool, error)

	// RenewLock extends holder's lock on name by ttl from now.
	RenewLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)

	// GetLock returns the live record for name, or stepflow.ErrLockNotHeld.
	GetLock(ctx context.Context, name string) (*Record, error)

	// ReleaseLocksByHolder frees every lock holder holds and returns the
	// number released.
	ReleaseLocksByHolder(ctx context.Context, holder string) (int64, error)

	// CountLocks counts live locks whose name starts with prefix.
	CountLocks(ctx context.Context, prefix string) (int64, error)
}
