package memory

import (
	"context"
	"sort"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/signal"
)

// CreateCallback persists a callback.
func (m *Store) CreateCallback(_ context.Context, cb *signal.Callback) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := cb.Token.String()
	if _, exists := m.callbacks[key]; exists {
		return stepflow.ErrSignalAlreadyExists
	}
	if cb.System() {
		for _, existing := range m.callbacks {
			if existing.System() && existing.Type == cb.Type {
				return stepflow.ErrSignalAlreadyExists
			}
		}
	}
	cp := *cb
	m.callbacks[key] = &cp
	return nil
}

// GetCallback retrieves a callback by token.
func (m *Store) GetCallback(_ context.Context, token id.SignalID) (*signal.Callback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cb, ok := m.callbacks[token.String()]
	if !ok {
		return nil, stepflow.ErrSignalNotFound
	}
	cp := *cb
	return &cp, nil
}

// DeleteCallback removes a callback.
func (m *Store) DeleteCallback(_ context.Context, token id.SignalID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := token.String()
	if _, ok := m.callbacks[key]; !ok {
		return stepflow.ErrSignalNotFound
	}
	delete(m.callbacks, key)
	return nil
}

// ListCallbacksByTask returns all callbacks registered by a task, oldest
// first.
func (m *Store) ListCallbacksByTask(_ context.Context, taskID id.TaskID) ([]*signal.Callback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	want := taskID.String()
	result := make([]*signal.Callback, 0)
	for _, cb := range m.callbacks {
		if !cb.System() && cb.TaskID.String() == want {
			cp := *cb
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].Token.String() < result[k].Token.String()
	})
	return result, nil
}

// GetSystemCallback returns the system callback of a signal type.
func (m *Store) GetSystemCallback(_ context.Context, signalType string) (*signal.Callback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, cb := range m.callbacks {
		if cb.System() && cb.Type == signalType {
			cp := *cb
			return &cp, nil
		}
	}
	return nil, stepflow.ErrSignalNotFound
}
