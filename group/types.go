package group

// TypeConfig limits one task type across all groups.
type TypeConfig struct {
	// Type is the task type name.
	Type string

	// MaxConcurrency limits simultaneous steps of this type on this
	// server. Zero means no limit.
	MaxConcurrency int

	// RateLimit is the sustained steps per second for this type.
	RateLimit float64

	// RateBurst is the burst size for the type's rate limiter.
	RateBurst int
}

// SetTypeConfig configures the limits of a task type. Calling it again for
// the same type replaces the previous configuration.
func (m *Manager) SetTypeConfig(cfg TypeConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := newGate(cfg.MaxConcurrency, cfg.RateLimit, cfg.RateBurst)
	if existing := m.types[cfg.Type]; existing != nil {
		g.active = existing.active
	}
	m.types[cfg.Type] = g
}

// TypeActive returns the number of running steps of taskType.
func (m *Manager) TypeActive(taskType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := m.types[taskType]; g != nil {
		return g.active
	}
	return 0
}
