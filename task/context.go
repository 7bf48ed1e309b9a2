package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/stepflow/id"
)

// Signaler registers and inspects signal callbacks on behalf of a step.
type Signaler interface {
	Register(ctx context.Context, taskID id.TaskID, signalType string) (string, error)
	Pending(ctx context.Context, token string) (bool, error)
}

// Env carries the runtime collaborators a step may reach.
type Env struct {
	Tasks   Store
	Signals Signaler
	Logger  *slog.Logger
	Now     func() time.Time
}

// Spawn is a child task requested during a step. The iterator creates it
// before the state's decision function runs.
type Spawn struct {
	ID     id.TaskID
	Type   string
	Object any
	Opts   []SubmitOption
}

// Context is the per-step execution context shared by entry actions and
// decision functions. It is never shared across tasks.
type Context struct {
	ctx    context.Context
	task   *Task
	typ    *Type
	env    Env
	object any

	spawned          []*Spawn
	sealed           bool
	awaitingChildren bool
}

// Context returns the underlying context.Context.
func (c *Context) Context() context.Context { return c.ctx }

// Task returns the task being stepped. Callers must not modify it.
func (c *Context) Task() *Task { return c.task }

// ID returns the task ID.
func (c *Context) ID() id.TaskID { return c.task.ID }

// State returns the current state name.
func (c *Context) State() string { return c.task.State }

// Logger returns a logger annotated with the task ID and state.
func (c *Context) Logger() *slog.Logger {
	return c.env.Logger.With(
		slog.String("task_id", c.task.ID.String()),
		slog.String("state", c.task.State),
	)
}

// Now returns the engine's current time.
func (c *Context) Now() time.Time { return c.env.Now() }

// Get decodes the scratch value stored under key into v. It reports false
// if the key is absent.
func (c *Context) Get(key string, v any) (bool, error) {
	data, ok := c.task.Scratch[key]
	if !ok {
		return false, nil
	}
	if err := c.typ.codec.Decode(data, v); err != nil {
		return true, fmt.Errorf("task: decode scratch %q: %w", key, err)
	}
	return true, nil
}

// Set stores v under key in the task's scratch context. The value is
// persisted with the task at the end of the step.
func (c *Context) Set(key string, v any) error {
	data, err := c.typ.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("task: encode scratch %q: %w", key, err)
	}
	if c.task.Scratch == nil {
		c.task.Scratch = make(map[string][]byte)
	}
	c.task.Scratch[key] = data
	return nil
}

// Delete removes key from the scratch context.
func (c *Context) Delete(key string) { delete(c.task.Scratch, key) }

// Spawn requests a child task of the given type and returns its ID. The
// iterator creates every requested child once the entry action returns
// and links them to this task only if all were created. Spawning is only
// possible from an entry action; later calls return ErrSpawnAfterEntry.
func (c *Context) Spawn(typeName string, object any, opts ...SubmitOption) (id.TaskID, error) {
	if c.sealed {
		return id.Nil, fmt.Errorf("%w: %q from state %q", ErrSpawnAfterEntry, typeName, c.task.State)
	}
	childID := id.NewTaskID()
	c.spawned = append(c.spawned, &Spawn{
		ID:     childID,
		Type:   typeName,
		Object: object,
		Opts:   append(append([]SubmitOption(nil), opts...), WithID(childID), ChildOf(c.task.ID)),
	})
	return childID, nil
}

// Seal ends the entry phase of the step. The iterator calls it after the
// entry action so that decision functions cannot spawn.
func (c *Context) Seal() { c.sealed = true }

// Spawned returns the children requested during this step.
func (c *Context) Spawned() []*Spawn { return c.spawned }

// Children returns the IDs of the children created for this task in
// earlier steps.
func (c *Context) Children() []id.TaskID { return c.task.Children }

// ChildTasks loads the task's children.
func (c *Context) ChildTasks() ([]*Task, error) {
	if len(c.task.Children) == 0 {
		return nil, nil
	}
	return c.env.Tasks.ListTasks(c.ctx, ListOpts{ParentID: c.task.ID})
}

// AwaitingChildren reports whether the decision parked on unfinished
// children.
func (c *Context) AwaitingChildren() bool { return c.awaitingChildren }

// RegisterSignal creates a single-use callback for signalType and returns
// its token. Hand the token to the remote operation; resolving it wakes
// this task.
func (c *Context) RegisterSignal(signalType string) (string, error) {
	if c.env.Signals == nil {
		return "", fmt.Errorf("task: no signal service configured")
	}
	return c.env.Signals.Register(c.ctx, c.task.ID, signalType)
}

// SignalPending reports whether the callback for token is still
// unresolved.
func (c *Context) SignalPending(token string) (bool, error) {
	if c.env.Signals == nil {
		return false, fmt.Errorf("task: no signal service configured")
	}
	return c.env.Signals.Pending(c.ctx, token)
}

// Commit encodes the domain object back into the task record. The
// iterator calls it once per step before persisting.
func (c *Context) Commit() error {
	if c.object == nil {
		return nil
	}
	data, err := c.typ.codec.Encode(c.object)
	if err != nil {
		return fmt.Errorf("task: encode object: %w", err)
	}
	c.task.Object = data
	return nil
}
