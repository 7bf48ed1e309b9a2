package group

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines the limits of one group.
type Config struct {
	// Name is the group identifier (matches task.Task.Group).
	Name string

	// MaxConcurrency limits how many steps of this group may run at once
	// on this server. Zero means no group-specific limit.
	MaxConcurrency int

	// RateLimit is the sustained number of steps per second that may
	// start. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the token-bucket burst. Defaults to 1 when RateLimit
	// is set.
	RateBurst int
}

// gate is the runtime state of one limited key.
type gate struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

func newGate(maxConcurrency int, limit float64, burst int) *gate {
	g := &gate{maxConcurrency: maxConcurrency}
	if limit > 0 {
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
	return g
}

func (g *gate) full() bool {
	return g != nil && g.maxConcurrency > 0 && g.active >= g.maxConcurrency
}

// Manager admits steps against group and type limits. It is safe for
// concurrent use.
type Manager struct {
	mu     sync.Mutex
	now    func() time.Time
	groups map[string]*gate
	types  map[string]*gate
}

// NewManager creates a Manager with the given group configurations.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		now:    time.Now,
		groups: make(map[string]*gate, len(configs)),
		types:  make(map[string]*gate),
	}
	for _, cfg := range configs {
		m.groups[cfg.Name] = newGate(cfg.MaxConcurrency, cfg.RateLimit, cfg.RateBurst)
	}
	return m
}

// Acquire reports whether a step of taskType in group may start now. On
// success the caller must call Release once the step is done. A refused
// acquire consumes no rate tokens.
func (m *Manager) Acquire(group, taskType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	gg := m.groups[group]
	tg := m.types[taskType]
	if gg.full() || tg.full() {
		return false
	}

	now := m.now()
	var held []*rate.Reservation
	for _, g := range []*gate{gg, tg} {
		if g == nil || g.limiter == nil {
			continue
		}
		r := g.limiter.ReserveN(now, 1)
		if !r.OK() || r.DelayFrom(now) > 0 {
			r.CancelAt(now)
			for _, h := range held {
				h.CancelAt(now)
			}
			return false
		}
		held = append(held, r)
	}

	if gg != nil {
		gg.active++
	}
	if tg != nil {
		tg.active++
	}
	return true
}

// Release returns the slot taken by a successful Acquire.
func (m *Manager) Release(group, taskType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if g := m.groups[group]; g != nil && g.active > 0 {
		g.active--
	}
	if g := m.types[taskType]; g != nil && g.active > 0 {
		g.active--
	}
}

// SetConfig updates or creates a group configuration. Steps already
// running keep counting against the new limits.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g := newGate(cfg.MaxConcurrency, cfg.RateLimit, cfg.RateBurst)
	if existing := m.groups[cfg.Name]; existing != nil {
		g.active = existing.active
	}
	m.groups[cfg.Name] = g
}

// Active returns the number of running steps in group.
func (m *Manager) Active(group string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if g := m.groups[group]; g != nil {
		return g.active
	}
	return 0
}

// Saturated lists the groups at their concurrency ceiling, sorted. The
// scheduler leaves them out of its claim query.
func (m *Manager) Saturated() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for name, g := range m.groups {
		if g.full() {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
