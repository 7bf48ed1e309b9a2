package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/lock"
)

const liveLock = "(expires_at IS NULL OR expires_at > ?)"

// AcquireLock takes name for holder if it is free or expired. The upsert
// only overwrites a row whose expiry has passed.
func (s *Store) AcquireLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := s.clock()
	m := &lockModel{Name: name, Holder: holder, AcquiredAt: now}
	if ttl > 0 {
		m.ExpiresAt = now.Add(ttl)
	}
	res, err := s.db.NewInsert().Model(m).
		On("CONFLICT (name) DO UPDATE").
		Set("holder = EXCLUDED.holder").
		Set("acquired_at = EXCLUDED.acquired_at").
		Set("expires_at = EXCLUDED.expires_at").
		Where("l.expires_at IS NOT NULL AND l.expires_at <= EXCLUDED.acquired_at").
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("stepflow/bun: acquire lock: %w", err)
	}
	return affected(res) == 1, nil
}

// ReleaseLock frees name if holder holds it.
func (s *Store) ReleaseLock(ctx context.Context, name, holder string) (bool, error) {
	res, err := s.db.NewDelete().Model((*lockModel)(nil)).
		Where("name = ?", name).
		Where("holder = ?", holder).
		Where(liveLock, s.clock()).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("stepflow/bun: release lock: %w", err)
	}
	return affected(res) == 1, nil
}

// RenewLock extends holder's lock on name.
func (s *Store) RenewLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := s.clock()
	var expires *time.Time
	if ttl > 0 {
		at := now.Add(ttl)
		expires = &at
	}
	res, err := s.db.NewUpdate().Model((*lockModel)(nil)).
		Set("expires_at = ?", expires).
		Where("name = ?", name).
		Where("holder = ?", holder).
		Where(liveLock, now).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("stepflow/bun: renew lock: %w", err)
	}
	return affected(res) == 1, nil
}

// GetLock returns the live record for name.
func (s *Store) GetLock(ctx context.Context, name string) (*lock.Record, error) {
	m := new(lockModel)
	err := s.db.NewSelect().Model(m).
		Where("name = ?", name).
		Where(liveLock, s.clock()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, stepflow.ErrLockNotHeld
		}
		return nil, fmt.Errorf("stepflow/bun: get lock: %w", err)
	}
	return fromLockModel(m), nil
}

// ReleaseLocksByHolder frees every lock holder holds.
func (s *Store) ReleaseLocksByHolder(ctx context.Context, holder string) (int64, error) {
	res, err := s.db.NewDelete().Model((*lockModel)(nil)).
		Where("holder = ?", holder).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("stepflow/bun: release locks by holder: %w", err)
	}
	return affected(res), nil
}

// CountLocks counts live locks whose name starts with prefix.
func (s *Store) CountLocks(ctx context.Context, prefix string) (int64, error) {
	n, err := s.db.NewSelect().Model((*lockModel)(nil)).
		Where("starts_with(name, ?)", prefix).
		Where(liveLock, s.clock()).
		Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("stepflow/bun: count locks: %w", err)
	}
	return int64(n), nil
}
