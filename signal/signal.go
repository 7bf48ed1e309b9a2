// Package signal resumes parked tasks when an asynchronous external event
// arrives.
//
// A step registers a callback and hands its token to a remote operation.
// When the operation completes, the caller resolves the token: the
// callback is consumed and the originating task is woken, so it is
// reconsidered on the next scheduler pass regardless of any wait timer.
//
// Callbacks registered with a nil task ID are long-lived "system"
// callbacks: registering the same signal type again returns the existing
// token, and resolving one never consumes it.
package signal

import (
	"context"
	"time"

	"github.com/xraph/stepflow/id"
)

// Callback is a registered signal callback.
type Callback struct {
	Token     id.SignalID `json:"token"`
	TaskID    id.TaskID   `json:"task_id"`
	Type      string      `json:"type"`
	CreatedAt time.Time   `json:"created_at"`
}

// System reports whether the callback is a reusable system callback.
func (c *Callback) System() bool { return c.TaskID.IsNil() }

// Store defines the persistence contract for signal callbacks.
type Store interface {
	// CreateCallback persists a callback. For system callbacks it returns
	// stepflow.ErrSignalAlreadyExists if one of the same type exists.
	CreateCallback(ctx context.Context, cb *Callback) error

	// GetCallback retrieves a callback by token.
	GetCallback(ctx context.Context, token id.SignalID) (*Callback, error)

	// DeleteCallback removes a callback. It returns stepflow.ErrSignalNotFound
	// if the token does not exist, which lets concurrent resolvers detect
	// that another one won.
	DeleteCallback(ctx context.Context, token id.SignalID) error

	// ListCallbacksByTask returns all callbacks registered by a task.
	ListCallbacksByTask(ctx context.Context, taskID id.TaskID) ([]*Callback, error)

	// GetSystemCallback returns the system callback of a signal type.
	GetSystemCallback(ctx context.Context, signalType string) (*Callback, error)
}
