package task

import (
	"errors"
	"fmt"

	"github.com/xraph/stepflow/transition"
)

// ErrSpawnAfterEntry is returned by Context.Spawn outside an entry action.
var ErrSpawnAfterEntry = errors.New("task: children can only be spawned from an entry action")

// ConfigurationError reports a task type whose state table and handlers
// do not line up. It is raised at registration and, for problems only
// visible at run time, at the offending step.
type ConfigurationError struct {
	Type  string
	State string
	Msg   string
	Err   error
}

func (e *ConfigurationError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg += ": " + e.Err.Error()
		}
	}
	if e.State != "" {
		return fmt.Sprintf("task: type %q state %q: %s", e.Type, e.State, msg)
	}
	return fmt.Sprintf("task: type %q: %s", e.Type, msg)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// UserError marks a failure caused by the task's input rather than the
// system. An unhandled UserError ends the task with ExitErrorUser.
type UserError struct {
	Err error
}

// NewUserError wraps err as a user error.
func NewUserError(err error) error { return &UserError{Err: err} }

// UserErrorf formats a user error.
func UserErrorf(format string, args ...any) error {
	return &UserError{Err: fmt.Errorf(format, args...)}
}

func (e *UserError) Error() string { return e.Err.Error() }

func (e *UserError) Unwrap() error { return e.Err }

// Classify maps an error that ends a task to its exit status.
func Classify(err error) ExitStatus {
	var unhandled *transition.UnhandledError
	var ue *UserError
	if errors.As(err, &unhandled) && errors.As(unhandled.Err, &ue) {
		return ExitErrorUser
	}
	return ExitErrorSystem
}
