package task

import (
	"context"
	"slices"
	"time"

	"github.com/xraph/stepflow/id"
)

// ListOpts filters task list and count queries. Zero fields match all.
type ListOpts struct {
	// Limit is the maximum number of tasks to return. Zero means no limit.
	Limit int
	// Offset is the number of tasks to skip.
	Offset int

	Type          string
	Group         string
	Phase         Phase
	ExitStatus    ExitStatus
	ParentID      id.TaskID
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

// Match reports whether t satisfies the filter, ignoring paging.
func (o ListOpts) Match(t *Task) bool {
	switch {
	case o.Type != "" && t.Type != o.Type:
		return false
	case o.Group != "" && t.Group != o.Group:
		return false
	case o.Phase != "" && t.Phase != o.Phase:
		return false
	case o.ExitStatus != "" && t.ExitStatus != o.ExitStatus:
		return false
	case !o.ParentID.IsNil() && t.ParentID.String() != o.ParentID.String():
		return false
	case !o.CreatedAfter.IsZero() && !t.CreatedAt.After(o.CreatedAfter):
		return false
	case !o.CreatedBefore.IsZero() && !t.CreatedAt.Before(o.CreatedBefore):
		return false
	}
	return true
}

// ClaimOpts selects tasks a server may claim.
type ClaimOpts struct {
	// Now is the reference time for wait timers.
	Now time.Time
	// Limit is the maximum number of candidates to return.
	Limit int
	// Capabilities are the server's tags; a task qualifies only when its
	// current state's tags are a subset.
	Capabilities []string
	// NoNew excludes tasks that have not started yet (soft pause).
	NoNew bool
	// ExcludeGroups lists hard-paused groups.
	ExcludeGroups []string
	// NoNewGroups lists soft-paused groups.
	NoNewGroups []string
}

// Match reports whether t is claimable under the options.
func (o ClaimOpts) Match(t *Task) bool {
	if !t.Runnable(o.Now) || !t.CapableOf(o.Capabilities) {
		return false
	}
	if slices.Contains(o.ExcludeGroups, t.Group) {
		return false
	}
	if t.Phase == PhaseBeforeStart && (o.NoNew || slices.Contains(o.NoNewGroups, t.Group)) {
		return false
	}
	return true
}

// Store defines the persistence contract for tasks.
type Store interface {
	// CreateTask persists a new task.
	CreateTask(ctx context.Context, t *Task) error

	// GetTask retrieves a task by ID.
	GetTask(ctx context.Context, taskID id.TaskID) (*Task, error)

	// UpdateTask persists changes to an existing task. It must not
	// overwrite WokenAt or TerminateRequested.
	UpdateTask(ctx context.Context, t *Task) error

	// DeleteTask removes a task by ID.
	DeleteTask(ctx context.Context, taskID id.TaskID) error

	// ListTasks returns tasks matching opts, oldest first.
	ListTasks(ctx context.Context, opts ListOpts) ([]*Task, error)

	// CountTasks returns the number of tasks matching opts.
	CountTasks(ctx context.Context, opts ListOpts) (int64, error)

	// ListClaimable returns up to opts.Limit claim candidates ordered by
	// priority (descending) then creation time (ascending).
	ListClaimable(ctx context.Context, opts ClaimOpts) ([]*Task, error)

	// WakeTask records a wake-up at the given time, making a parked task
	// runnable on the next scheduler pass.
	WakeTask(ctx context.Context, taskID id.TaskID, at time.Time) error

	// RequestTermination flags the task for termination at its next step
	// boundary and wakes it.
	RequestTermination(ctx context.Context, taskID id.TaskID, at time.Time) error
}
