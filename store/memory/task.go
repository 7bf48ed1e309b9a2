package memory

import (
	"context"
	"sort"
	"time"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/lock"
	"github.com/xraph/stepflow/task"
)

// CreateTask persists a new task.
func (m *Store) CreateTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := t.ID.String()
	if _, exists := m.tasks[key]; exists {
		return stepflow.ErrTaskAlreadyExists
	}
	m.tasks[key] = t.Clone()
	return nil
}

// GetTask retrieves a task by ID.
func (m *Store) GetTask(_ context.Context, taskID id.TaskID) (*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[taskID.String()]
	if !ok {
		return nil, stepflow.ErrTaskNotFound
	}
	return t.Clone(), nil
}

// UpdateTask persists changes to an existing task. The stored wake-up time
// and termination request are kept: only WakeTask and RequestTermination
// write them.
func (m *Store) UpdateTask(_ context.Context, t *task.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := t.ID.String()
	prev, ok := m.tasks[key]
	if !ok {
		return stepflow.ErrTaskNotFound
	}
	cp := t.Clone()
	cp.WokenAt = prev.WokenAt
	cp.TerminateRequested = prev.TerminateRequested
	cp.UpdatedAt = m.clock()
	m.tasks[key] = cp
	return nil
}

// DeleteTask removes a task by ID.
func (m *Store) DeleteTask(_ context.Context, taskID id.TaskID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := taskID.String()
	if _, ok := m.tasks[key]; !ok {
		return stepflow.ErrTaskNotFound
	}
	delete(m.tasks, key)
	return nil
}

// ListTasks returns tasks matching opts, oldest first.
func (m *Store) ListTasks(_ context.Context, opts task.ListOpts) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*task.Task, 0)
	for _, t := range m.tasks {
		if opts.Match(t) {
			result = append(result, t.Clone())
		}
	}
	sort.Slice(result, func(i, k int) bool {
		if !result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].CreatedAt.Before(result[k].CreatedAt)
		}
		return result[i].ID.String() < result[k].ID.String()
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return []*task.Task{}, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// CountTasks returns the number of tasks matching opts.
func (m *Store) CountTasks(_ context.Context, opts task.ListOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, t := range m.tasks {
		if opts.Match(t) {
			count++
		}
	}
	return count, nil
}

// ListClaimable returns claim candidates ordered by priority then age.
// Tasks whose step lock is currently held are skipped.
func (m *Store) ListClaimable(_ context.Context, opts task.ClaimOpts) ([]*task.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.clock()
	if opts.Now.IsZero() {
		opts.Now = now
	}
	candidates := make([]*task.Task, 0)
	for key, t := range m.tasks {
		if !opts.Match(t) {
			continue
		}
		if rec, held := m.locks[lock.TaskLockName(key)]; held && !rec.Expired(now) {
			continue
		}
		candidates = append(candidates, t)
	}
	sort.Slice(candidates, func(i, k int) bool { return task.Less(candidates[i], candidates[k]) })

	if opts.Limit > 0 && len(candidates) > opts.Limit {
		candidates = candidates[:opts.Limit]
	}
	result := make([]*task.Task, len(candidates))
	for i, t := range candidates {
		result[i] = t.Clone()
	}
	return result, nil
}

// WakeTask records a wake-up. Waking a finished task is a no-op.
func (m *Store) WakeTask(_ context.Context, taskID id.TaskID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID.String()]
	if !ok {
		return stepflow.ErrTaskNotFound
	}
	if t.Phase != task.PhaseFinished && at.After(t.WokenAt) {
		t.WokenAt = at
	}
	return nil
}

// RequestTermination flags the task for termination and wakes it.
func (m *Store) RequestTermination(_ context.Context, taskID id.TaskID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.tasks[taskID.String()]
	if !ok {
		return stepflow.ErrTaskNotFound
	}
	if t.Phase == task.PhaseFinished {
		return stepflow.ErrTaskFinished
	}
	t.TerminateRequested = true
	if at.After(t.WokenAt) {
		t.WokenAt = at
	}
	return nil
}
