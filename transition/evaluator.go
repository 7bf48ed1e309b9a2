package transition

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/stepflow/statetable"
)

// Decision is the resolved next move for a task.
type Decision struct {
	// Target is the next state name, or a terminal.
	Target string
	// Requested is the label the result asked for ("!" for exceptions).
	Requested string
	// Matched is the outcome of the transition actually taken. It differs
	// from Requested when a wildcard or exception transition took over.
	Matched string
	// Transition is nil for wait and poll results.
	Transition *statetable.Transition
	// Delay is how long the target must not run for.
	Delay time.Duration
	// SkipEntry means the target resumes at its decision function.
	SkipEntry bool
	// Stay is set for wait and poll results: the task parks in the same state.
	Stay bool
	// Message carries a Fail message.
	Message string
	// Err carries the exception, if any.
	Err error
}

// Terminal reports whether the decision ends the task.
func (d Decision) Terminal() bool { return statetable.IsTerminal(d.Target) }

// CounterKey names the attempt counter of a (state, outcome) pair.
func CounterKey(state, outcome string) string { return state + "/" + outcome }

// Evaluator resolves results against a state's transitions.
type Evaluator struct {
	logger *slog.Logger
}

// NewEvaluator creates an evaluator. A nil logger uses slog.Default().
func NewEvaluator(logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{logger: logger}
}

// Resolve picks the transition for res in state and bumps the matching
// counter in counters. Counters are never reset.
//
// A concrete outcome matches exactly, then "*". An exception matches "!"
// only. When the matched transition's counter has reached its max, the
// evaluator falls through to "*", then to "!", and finally reports
// ErrAttemptsExhausted.
func (e *Evaluator) Resolve(state *statetable.State, res Result, counters map[string]int) (Decision, error) {
	if res.Kind == KindWait || res.Kind == KindPoll {
		return Decision{
			Target:    state.Name,
			Delay:     res.Delay,
			Stay:      true,
			SkipEntry: res.Kind == KindPoll,
		}, nil
	}

	label := res.Label()
	var chain []string
	if res.Kind == KindException {
		if state.Transition(statetable.ExceptionOutcome) == nil {
			return Decision{}, &UnhandledError{State: state.Name, Err: res.Err}
		}
		chain = []string{statetable.ExceptionOutcome}
	} else {
		if label == "" || label == statetable.Wildcard || label == statetable.ExceptionOutcome {
			return Decision{}, fmt.Errorf("%w: %q in state %q", ErrInvalidOutcome, label, state.Name)
		}
		if state.Transition(label) == nil && state.Transition(statetable.Wildcard) == nil {
			return Decision{}, &MissingTransitionError{State: state.Name, Outcome: label}
		}
		chain = []string{label, statetable.Wildcard, statetable.ExceptionOutcome}
	}

	for _, outcome := range chain {
		tr := state.Transition(outcome)
		if tr == nil {
			continue
		}
		key := CounterKey(state.Name, outcome)
		if tr.Max > 0 && counters[key] >= tr.Max {
			e.logger.Debug("attempt budget spent",
				slog.String("state", state.Name),
				slog.String("outcome", outcome),
				slog.Int("max", tr.Max),
			)
			continue
		}
		counters[key]++

		delay := tr.WaitDuration()
		if res.Delay > 0 {
			delay = res.Delay
		}
		return Decision{
			Target:     tr.Target,
			Requested:  label,
			Matched:    outcome,
			Transition: tr,
			Delay:      delay,
			SkipEntry:  !tr.Exec,
			Message:    res.Message,
			Err:        res.Err,
		}, nil
	}

	return Decision{}, fmt.Errorf("%w: state %q outcome %q", ErrAttemptsExhausted, state.Name, label)
}
