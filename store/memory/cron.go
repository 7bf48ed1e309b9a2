package memory

import (
	"context"
	"slices"
	"sort"
	"time"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/cron"
	"github.com/xraph/stepflow/id"
)

func cloneEntry(e *cron.Entry) *cron.Entry {
	cp := *e
	cp.Object = slices.Clone(e.Object)
	if e.LastRunAt != nil {
		at := *e.LastRunAt
		cp.LastRunAt = &at
	}
	if e.NextRunAt != nil {
		at := *e.NextRunAt
		cp.NextRunAt = &at
	}
	return &cp
}

// RegisterCron persists a new cron entry.
func (m *Store) RegisterCron(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.crons {
		if e.Name == entry.Name {
			return stepflow.ErrDuplicateCron
		}
	}
	m.crons[entry.ID.String()] = cloneEntry(entry)
	return nil
}

// GetCron retrieves a cron entry by ID.
func (m *Store) GetCron(_ context.Context, entryID id.CronID) (*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return nil, stepflow.ErrCronNotFound
	}
	return cloneEntry(e), nil
}

// ListCrons returns all cron entries, oldest first.
func (m *Store) ListCrons(_ context.Context) ([]*cron.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cron.Entry, 0, len(m.crons))
	for _, e := range m.crons {
		result = append(result, cloneEntry(e))
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// UpdateCronLastRun records when a cron entry last fired.
func (m *Store) UpdateCronLastRun(_ context.Context, entryID id.CronID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.crons[entryID.String()]
	if !ok {
		return stepflow.ErrCronNotFound
	}
	e.LastRunAt = &at
	e.UpdatedAt = m.clock()
	return nil
}

// UpdateCronEntry updates a cron entry (Enabled, NextRunAt, etc.).
func (m *Store) UpdateCronEntry(_ context.Context, entry *cron.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entry.ID.String()
	if _, ok := m.crons[key]; !ok {
		return stepflow.ErrCronNotFound
	}
	cp := cloneEntry(entry)
	cp.UpdatedAt = m.clock()
	m.crons[key] = cp
	return nil
}

// DeleteCron removes a cron entry by ID.
func (m *Store) DeleteCron(_ context.Context, entryID id.CronID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := entryID.String()
	if _, ok := m.crons[key]; !ok {
		return stepflow.ErrCronNotFound
	}
	delete(m.crons, key)
	return nil
}
