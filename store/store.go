package store

import (
	"context"

	"github.com/xraph/stepflow/cluster"
	"github.com/xraph/stepflow/control"
	"github.com/xraph/stepflow/cron"
	"github.com/xraph/stepflow/lock"
	"github.com/xraph/stepflow/signal"
	"github.com/xraph/stepflow/task"
)

// Store is the aggregate persistence interface.
// A single backend implements every subsystem store.
type Store interface {
	task.Store
	lock.Store
	signal.Store
	control.Store
	cluster.Store
	cron.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
