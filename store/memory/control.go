package memory

import (
	"context"
	"maps"

	"github.com/xraph/stepflow/control"
)

// GetFlags returns a copy of the current flags.
func (m *Store) GetFlags(_ context.Context) (*control.Flags, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cp := m.flags
	cp.Groups = maps.Clone(m.flags.Groups)
	return &cp, nil
}

// SetGlobalPause sets the cluster-wide pause level.
func (m *Store) SetGlobalPause(_ context.Context, level control.Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flags.Global = level
	m.flags.UpdatedAt = m.clock()
	return nil
}

// SetGroupPause sets the pause level of one group.
func (m *Store) SetGroupPause(_ context.Context, group string, level control.Level) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if level == control.PauseOff {
		delete(m.flags.Groups, group)
	} else {
		if m.flags.Groups == nil {
			m.flags.Groups = make(map[string]control.Level)
		}
		m.flags.Groups[group] = level
	}
	m.flags.UpdatedAt = m.clock()
	return nil
}

// SetMaintenance switches maintenance mode.
func (m *Store) SetMaintenance(_ context.Context, on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flags.Maintenance = on
	m.flags.UpdatedAt = m.clock()
	return nil
}
