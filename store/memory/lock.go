package memory

import (
	"context"
	"strings"
	"time"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/lock"
)

// AcquireLock takes name for holder if it is free or expired. The store
// mutex makes the check-and-set atomic.
func (m *Store) AcquireLock(_ context.Context, name, holder string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if rec, ok := m.locks[name]; ok && !rec.Expired(now) {
		return false, nil
	}
	rec := &lock.Record{Name: name, Holder: holder, AcquiredAt: now}
	if ttl > 0 {
		rec.ExpiresAt = now.Add(ttl)
	}
	m.locks[name] = rec
	return true, nil
}

// ReleaseLock frees name if holder holds it.
func (m *Store) ReleaseLock(_ context.Context, name, holder string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.locks[name]
	if !ok || rec.Holder != holder || rec.Expired(m.clock()) {
		return false, nil
	}
	delete(m.locks, name)
	return true, nil
}

// RenewLock extends holder's lock on name.
func (m *Store) RenewLock(_ context.Context, name, holder string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	rec, ok := m.locks[name]
	if !ok || rec.Holder != holder || rec.Expired(now) {
		return false, nil
	}
	if ttl > 0 {
		rec.ExpiresAt = now.Add(ttl)
	} else {
		rec.ExpiresAt = time.Time{}
	}
	return true, nil
}

// GetLock returns the live record for name.
func (m *Store) GetLock(_ context.Context, name string) (*lock.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.locks[name]
	if !ok || rec.Expired(m.clock()) {
		return nil, stepflow.ErrLockNotHeld
	}
	cp := *rec
	return &cp, nil
}

// ReleaseLocksByHolder frees every lock holder holds.
func (m *Store) ReleaseLocksByHolder(_ context.Context, holder string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for name, rec := range m.locks {
		if rec.Holder == holder {
			delete(m.locks, name)
			n++
		}
	}
	return n, nil
}

// CountLocks counts live locks whose name starts with prefix.
func (m *Store) CountLocks(_ context.Context, prefix string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.clock()
	var n int64
	for name, rec := range m.locks {
		if strings.HasPrefix(name, prefix) && !rec.Expired(now) {
			n++
		}
	}
	return n, nil
}
