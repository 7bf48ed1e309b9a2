package task

import "github.com/xraph/stepflow/transition"

// Step is the view an entry action or decision function gets of its task.
// Object is decoded before the step and encoded back after it, so changes
// to it are persisted with the task.
type Step[T any] struct {
	*Context
	Object *T
}

// EntryFunc is a state's entry action. A returned error is raised as an
// exception and routed through the state's "!" transition.
type EntryFunc[T any] func(s *Step[T]) error

// DecisionFunc picks the outcome of a state.
type DecisionFunc[T any] func(s *Step[T]) transition.Result

// FinalizeFunc runs once when the task reaches finish or terminate and
// returns the exit code and message to record.
type FinalizeFunc[T any] func(s *Step[T], status ExitStatus) (code int, message string)

// Definition is a typed task definition: a state table plus the entry
// actions and decision functions it refers to. T is the domain object.
type Definition[T any] struct {
	// Name is the unique identifier of the task type.
	Name string

	// Table is the state-table DSL text.
	Table string

	// Entries maps state names to entry actions. States without one
	// proceed straight to their decision.
	Entries map[string]EntryFunc[T]

	// Decisions maps decision-function names used in the table to
	// implementations.
	Decisions map[string]DecisionFunc[T]

	// Finalize is optional.
	Finalize FinalizeFunc[T]

	// Opts configures defaults for submissions.
	Opts Options
}

// NewDefinition creates a typed task definition.
func NewDefinition[T any](name, table string, opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Name:      name,
		Table:     table,
		Entries:   make(map[string]EntryFunc[T]),
		Decisions: make(map[string]DecisionFunc[T]),
		Opts:      DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}

// Entry registers the entry action of a state.
func (d *Definition[T]) Entry(state string, fn EntryFunc[T]) *Definition[T] {
	d.Entries[state] = fn
	return d
}

// Decision registers a decision function under name.
func (d *Definition[T]) Decision(name string, fn DecisionFunc[T]) *Definition[T] {
	d.Decisions[name] = fn
	return d
}

// OnFinish sets the finalizer.
func (d *Definition[T]) OnFinish(fn FinalizeFunc[T]) *Definition[T] {
	d.Finalize = fn
	return d
}
