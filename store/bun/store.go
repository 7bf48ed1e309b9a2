package bunstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/store"
)

var _ store.Store = (*Store)(nil)

// Store is a Bun ORM implementation of store.Store using PostgreSQL dialect.
// The caller owns the *bun.DB lifecycle; Store never closes it.
type Store struct {
	db     *bun.DB
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithClock overrides the time source used for lock expiry, heartbeats and
// leadership.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a new Bun store. The caller owns the db lifecycle; the Store
// will not close it on Close().
func New(db *bun.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying *bun.DB for advanced usage.
func (s *Store) DB() *bun.DB {
	return s.db
}

// clock returns the store time truncated to Postgres' microsecond precision.
func (s *Store) clock() time.Time { return s.now().UTC().Truncate(time.Microsecond) }

// models lists every table the store owns, in creation order.
func models() []any {
	return []any{
		(*taskModel)(nil),
		(*lockModel)(nil),
		(*callbackModel)(nil),
		(*flagsModel)(nil),
		(*groupPauseModel)(nil),
		(*serverModel)(nil),
		(*leaderModel)(nil),
		(*cronModel)(nil),
	}
}

// indexes are created after the tables.
var indexes = []string{
	`CREATE INDEX IF NOT EXISTS stepflow_tasks_claim_idx
		ON stepflow_tasks (priority DESC, created_at ASC) WHERE phase <> 'finished'`,
	`CREATE INDEX IF NOT EXISTS stepflow_tasks_created_idx ON stepflow_tasks (created_at, id)`,
	`CREATE INDEX IF NOT EXISTS stepflow_tasks_parent_idx ON stepflow_tasks (parent_id)`,
	`CREATE INDEX IF NOT EXISTS stepflow_locks_holder_idx ON stepflow_locks (holder)`,
	`CREATE INDEX IF NOT EXISTS stepflow_signals_task_idx ON stepflow_signals (task_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS stepflow_signals_system_idx
		ON stepflow_signals (type) WHERE task_id IS NULL`,
	`CREATE INDEX IF NOT EXISTS stepflow_servers_seen_idx ON stepflow_servers (state, last_seen)`,
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, m := range models() {
		if _, err := s.db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("%w: create table: %w", stepflow.ErrMigrationFailed, err)
		}
	}
	for _, ddl := range indexes {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("%w: create index: %w", stepflow.ErrMigrationFailed, err)
		}
	}
	s.logger.Debug("stepflow/bun: schema ready", slog.Int("tables", len(models())))
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op because the caller owns the *bun.DB lifecycle.
func (s *Store) Close() error {
	return nil
}
