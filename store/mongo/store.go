package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/stepflow/store"
)

// Collection name constants.
const (
	colTasks   = "stepflow_tasks"
	colLocks   = "stepflow_locks"
	colSignals = "stepflow_signals"
	colFlags   = "stepflow_flags"
	colGroups  = "stepflow_group_pauses"
	colServers = "stepflow_servers"
	colLeader  = "stepflow_leader"
	colCrons   = "stepflow_crons"
)

// Singleton document IDs.
const (
	flagsID  = "flags"
	leaderID = "leader"
)

var _ store.Store = (*Store)(nil)

// Store implements store.Store backed by MongoDB.
// The caller owns the database lifecycle; Close never disconnects it.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides the time source used for lock expiry, heartbeats and
// leadership.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a MongoDB store on db.
func New(db *mongod.Database, opts ...Option) *Store {
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

// Database returns the underlying database handle.
func (s *Store) Database() *mongod.Database { return s.db }

// clock returns the store time truncated to BSON's millisecond precision.
func (s *Store) clock() time.Time { return s.now().UTC().Truncate(time.Millisecond) }

func (s *Store) col(name string) *mongod.Collection { return s.db.Collection(name) }

// Migrate creates indexes for all stepflow collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.col(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("stepflow/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close is a no-op because the caller owns the database.
func (s *Store) Close() error { return nil }

// ── helpers ──────────────────────────────────────────────────────

func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

func isDuplicateKey(err error) bool {
	return mongod.IsDuplicateKeyError(err)
}

// live matches lock-like documents whose expiry is unset or after now.
func live(field string, now time.Time) bson.D {
	return bson.D{{Key: "$or", Value: bson.A{
		bson.D{{Key: field, Value: nil}},
		bson.D{{Key: field, Value: bson.D{{Key: "$gt", Value: now}}}},
	}}}
}

// migrationIndexes returns the index definitions for all collections.
func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colTasks: {
			// Claim index: open tasks by priority then age.
			{Keys: bson.D{
				{Key: "phase", Value: 1},
				{Key: "priority", Value: -1},
				{Key: "created_at", Value: 1},
			}},
			{Keys: bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}},
			{Keys: bson.D{{Key: "type", Value: 1}}},
			{Keys: bson.D{{Key: "parent_id", Value: 1}}},
		},
		colLocks: {
			{Keys: bson.D{{Key: "holder", Value: 1}}},
		},
		colSignals: {
			{Keys: bson.D{{Key: "task_id", Value: 1}}},
			// At most one system callback per signal type.
			{
				Keys: bson.D{{Key: "type", Value: 1}},
				Options: options.Index().
					SetName("system_type_unique").
					SetUnique(true).
					SetPartialFilterExpression(bson.D{{Key: "task_id", Value: ""}}),
			},
		},
		colServers: {
			{Keys: bson.D{{Key: "state", Value: 1}, {Key: "last_seen", Value: 1}}},
		},
		colCrons: {
			{
				Keys:    bson.D{{Key: "name", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{
				{Key: "enabled", Value: 1},
				{Key: "next_run_at", Value: 1},
			}},
		},
	}
}
