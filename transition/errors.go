package transition

import (
	"errors"
	"fmt"
)

// ErrAttemptsExhausted is returned when an outcome's budget is spent and
// neither a wildcard nor an exception transition can take over.
var ErrAttemptsExhausted = errors.New("transition: attempts exhausted")

// ErrInvalidOutcome is returned for empty or reserved outcome labels.
var ErrInvalidOutcome = errors.New("transition: invalid outcome label")

// MissingTransitionError reports a concrete outcome that a state neither
// maps nor catches with a wildcard.
type MissingTransitionError struct {
	State   string
	Outcome string
}

func (e *MissingTransitionError) Error() string {
	return fmt.Sprintf("transition: state %q has no transition for outcome %q", e.State, e.Outcome)
}

// UnhandledError reports an exception raised in a state without a "!"
// transition. It unwraps to the original error.
type UnhandledError struct {
	State string
	Err   error
}

func (e *UnhandledError) Error() string {
	return fmt.Sprintf("transition: unhandled exception in state %q: %v", e.State, e.Err)
}

func (e *UnhandledError) Unwrap() error { return e.Err }
