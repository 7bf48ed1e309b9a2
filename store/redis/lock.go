package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/lock"
)

func expiry(now time.Time, ttl time.Duration) string {
	if ttl <= 0 {
		return ""
	}
	return stamp(now.Add(ttl))
}

// AcquireLock takes name for holder if it is free or expired.
func (s *Store) AcquireLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := s.clock()
	n, err := acquireLockScript.Run(ctx, s.client,
		[]string{s.keys.lock(name), s.keys.locks()},
		stamp(now), holder, expiry(now, ttl), name,
	).Int()
	if err != nil {
		return false, fmt.Errorf("stepflow/redis: acquire lock: %w", err)
	}
	return n == 1, nil
}

// ReleaseLock frees name if holder holds it.
func (s *Store) ReleaseLock(ctx context.Context, name, holder string) (bool, error) {
	n, err := releaseLockScript.Run(ctx, s.client,
		[]string{s.keys.lock(name), s.keys.locks()},
		stamp(s.clock()), holder, name,
	).Int()
	if err != nil {
		return false, fmt.Errorf("stepflow/redis: release lock: %w", err)
	}
	return n == 1, nil
}

// RenewLock extends holder's lock on name.
func (s *Store) RenewLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := s.clock()
	n, err := renewLockScript.Run(ctx, s.client,
		[]string{s.keys.lock(name)},
		stamp(now), holder, expiry(now, ttl),
	).Int()
	if err != nil {
		return false, fmt.Errorf("stepflow/redis: renew lock: %w", err)
	}
	return n == 1, nil
}

// GetLock returns the live record for name.
func (s *Store) GetLock(ctx context.Context, name string) (*lock.Record, error) {
	vals, err := s.client.HMGet(ctx, s.keys.lock(name), "holder", "acquired_at", "expires_at").Result()
	if err != nil {
		return nil, fmt.Errorf("stepflow/redis: get lock: %w", err)
	}
	rec, ok := decodeLock(name, vals)
	if !ok || rec.Expired(s.clock()) {
		return nil, stepflow.ErrLockNotHeld
	}
	return rec, nil
}

func decodeLock(name string, vals []any) (*lock.Record, bool) {
	holder, ok := vals[0].(string)
	if !ok {
		return nil, false
	}
	rec := &lock.Record{Name: name, Holder: holder}
	if v, ok := vals[1].(string); ok {
		rec.AcquiredAt = parseStamp(v)
	}
	if v, ok := vals[2].(string); ok {
		rec.ExpiresAt = parseStamp(v)
	}
	return rec, true
}

// liveLocks reports, per name, whether a live lock exists.
func (s *Store) liveLocks(ctx context.Context, names []string, now time.Time) ([]bool, error) {
	pipe := s.client.Pipeline()
	cmds := make([]*goredis.SliceCmd, len(names))
	for i, name := range names {
		cmds[i] = pipe.HMGet(ctx, s.keys.lock(name), "holder", "acquired_at", "expires_at")
	}
	if _, err := pipe.Exec(ctx); err != nil && !isNil(err) {
		return nil, fmt.Errorf("stepflow/redis: read locks: %w", err)
	}
	live := make([]bool, len(names))
	for i, cmd := range cmds {
		rec, ok := decodeLock(names[i], cmd.Val())
		live[i] = ok && !rec.Expired(now)
	}
	return live, nil
}

// ReleaseLocksByHolder frees every lock holder holds.
func (s *Store) ReleaseLocksByHolder(ctx context.Context, holder string) (int64, error) {
	names, err := s.client.SMembers(ctx, s.keys.locks()).Result()
	if err != nil {
		return 0, fmt.Errorf("stepflow/redis: list locks: %w", err)
	}
	var released int64
	for _, name := range names {
		n, err := dropLockScript.Run(ctx, s.client,
			[]string{s.keys.lock(name), s.keys.locks()},
			holder, name,
		).Int()
		if err != nil {
			return released, fmt.Errorf("stepflow/redis: drop lock %q: %w", name, err)
		}
		released += int64(n)
	}
	return released, nil
}

// CountLocks counts live locks whose name starts with prefix.
func (s *Store) CountLocks(ctx context.Context, prefix string) (int64, error) {
	all, err := s.client.SMembers(ctx, s.keys.locks()).Result()
	if err != nil {
		return 0, fmt.Errorf("stepflow/redis: list locks: %w", err)
	}
	names := all[:0]
	for _, name := range all {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return 0, nil
	}
	live, err := s.liveLocks(ctx, names, s.clock())
	if err != nil {
		return 0, err
	}
	var n int64
	for _, ok := range live {
		if ok {
			n++
		}
	}
	return n, nil
}
