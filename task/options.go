package task

import (
	"time"

	"github.com/xraph/stepflow/id"
)

// DefaultGroup is the group of tasks submitted without one.
const DefaultGroup = "default"

// Options configures per-type defaults.
type Options struct {
	// Priority determines claim ordering. Higher values are claimed first.
	Priority int

	// Group is the scheduling group used for group pause and ceilings.
	Group string

	// Timeout bounds a single step. Zero means unlimited.
	Timeout time.Duration

	// Codec names the encoding of the domain object and scratch values.
	Codec string

	// ChildPollInterval is how often the built-in children decision
	// re-checks unfinished children when no wake-up arrives.
	ChildPollInterval time.Duration
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		Group:             DefaultGroup,
		Timeout:           5 * time.Minute,
		Codec:             "json",
		ChildPollInterval: 5 * time.Second,
	}
}

// Option is a functional option for configuring a task definition.
type Option func(*Options)

// WithPriority sets the default priority of the type's tasks.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithGroup sets the default group of the type's tasks.
func WithGroup(g string) Option {
	return func(o *Options) { o.Group = g }
}

// WithTimeout sets the per-step deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithCodec selects the object codec ("json" or "msgpack").
func WithCodec(name string) Option {
	return func(o *Options) { o.Codec = name }
}

// WithChildPollInterval sets the fan-in polling interval.
func WithChildPollInterval(d time.Duration) Option {
	return func(o *Options) { o.ChildPollInterval = d }
}

// SubmitOpts overrides type defaults for one submission.
type SubmitOpts struct {
	ID          id.TaskID
	Priority    int
	HasPriority bool
	Group       string
	Delay       time.Duration
	ParentID    id.TaskID
}

// SubmitOption configures a single submission.
type SubmitOption func(*SubmitOpts)

// AtPriority overrides the type's default priority.
func AtPriority(p int) SubmitOption {
	return func(o *SubmitOpts) {
		o.Priority = p
		o.HasPriority = true
	}
}

// InGroup overrides the type's default group.
func InGroup(g string) SubmitOption {
	return func(o *SubmitOpts) { o.Group = g }
}

// After delays the first step.
func After(d time.Duration) SubmitOption {
	return func(o *SubmitOpts) { o.Delay = d }
}

// WithID assigns the task ID instead of generating one.
func WithID(taskID id.TaskID) SubmitOption {
	return func(o *SubmitOpts) { o.ID = taskID }
}

// ChildOf links the new task to its parent.
func ChildOf(parent id.TaskID) SubmitOption {
	return func(o *SubmitOpts) { o.ParentID = parent }
}
