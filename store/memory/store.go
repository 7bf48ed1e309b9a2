// Package memory provides a fully in-memory implementation of store.Store.
// It is safe for concurrent access and intended for unit testing,
// development and single-process deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/xraph/stepflow/cluster"
	"github.com/xraph/stepflow/control"
	"github.com/xraph/stepflow/cron"
	"github.com/xraph/stepflow/lock"
	"github.com/xraph/stepflow/signal"
	"github.com/xraph/stepflow/task"
)

// Ensure Store implements every subsystem store at compile time.
// We can't import store here (import cycle in tests), so we verify each.
var (
	_ task.Store    = (*Store)(nil)
	_ lock.Store    = (*Store)(nil)
	_ signal.Store  = (*Store)(nil)
	_ control.Store = (*Store)(nil)
	_ cluster.Store = (*Store)(nil)
	_ cron.Store    = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	tasks     map[string]*task.Task
	locks     map[string]*lock.Record
	callbacks map[string]*signal.Callback
	flags     control.Flags
	servers   map[string]*cluster.Server
	crons     map[string]*cron.Entry

	// leader tracks the current cluster leader server ID string.
	leader      string
	leaderUntil time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for lock expiry, heartbeats and
// leadership. Tests use it to simulate elapsed time.
func WithClock(now func() time.Time) Option {
	return func(m *Store) { m.now = now }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	m := &Store{
		now:       time.Now,
		tasks:     make(map[string]*task.Task),
		locks:     make(map[string]*lock.Record),
		callbacks: make(map[string]*signal.Callback),
		flags:     control.Flags{Global: control.PauseOff},
		servers:   make(map[string]*cluster.Server),
		crons:     make(map[string]*cron.Entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Store) clock() time.Time { return m.now().UTC() }

// ──────────────────────────────────────────────────
// Lifecycle: Migrate, Ping, Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }
