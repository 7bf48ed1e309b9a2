package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/lock"
)

func expiresAt(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	at := now.Add(ttl)
	return &at
}

// AcquireLock takes name for holder if it is free or expired. The upsert
// only overwrites an expired row, so concurrent callers serialize on the
// primary key and exactly one wins.
func (s *Store) AcquireLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := s.clock()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO stepflow_locks (name, holder, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			holder = EXCLUDED.holder,
			acquired_at = EXCLUDED.acquired_at,
			expires_at = EXCLUDED.expires_at
		WHERE stepflow_locks.expires_at IS NOT NULL
			AND stepflow_locks.expires_at <= EXCLUDED.acquired_at`,
		name, holder, now, expiresAt(now, ttl),
	)
	if err != nil {
		return false, fmt.Errorf("stepflow/postgres: acquire lock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ReleaseLock frees name if holder holds it.
func (s *Store) ReleaseLock(ctx context.Context, name, holder string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM stepflow_locks
		WHERE name = $1 AND holder = $2
			AND (expires_at IS NULL OR expires_at > $3)`,
		name, holder, s.clock(),
	)
	if err != nil {
		return false, fmt.Errorf("stepflow/postgres: release lock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RenewLock extends holder's lock on name.
func (s *Store) RenewLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := s.clock()
	tag, err := s.pool.Exec(ctx, `
		UPDATE stepflow_locks SET expires_at = $4
		WHERE name = $1 AND holder = $2
			AND (expires_at IS NULL OR expires_at > $3)`,
		name, holder, now, expiresAt(now, ttl),
	)
	if err != nil {
		return false, fmt.Errorf("stepflow/postgres: renew lock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetLock returns the live record for name.
func (s *Store) GetLock(ctx context.Context, name string) (*lock.Record, error) {
	var (
		rec     = lock.Record{Name: name}
		expires *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT holder, acquired_at, expires_at FROM stepflow_locks
		WHERE name = $1 AND (expires_at IS NULL OR expires_at > $2)`,
		name, s.clock(),
	).Scan(&rec.Holder, &rec.AcquiredAt, &expires)
	if err != nil {
		if isNoRows(err) {
			return nil, stepflow.ErrLockNotHeld
		}
		return nil, fmt.Errorf("stepflow/postgres: get lock: %w", err)
	}
	rec.AcquiredAt = rec.AcquiredAt.UTC()
	rec.ExpiresAt = fromNull(expires)
	return &rec, nil
}

// ReleaseLocksByHolder frees every lock holder holds.
func (s *Store) ReleaseLocksByHolder(ctx context.Context, holder string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM stepflow_locks WHERE holder = $1`, holder)
	if err != nil {
		return 0, fmt.Errorf("stepflow/postgres: release locks by holder: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountLocks counts live locks whose name starts with prefix.
func (s *Store) CountLocks(ctx context.Context, prefix string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM stepflow_locks
		WHERE starts_with(name, $1)
			AND (expires_at IS NULL OR expires_at > $2)`,
		prefix, s.clock(),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("stepflow/postgres: count locks: %w", err)
	}
	return n, nil
}
