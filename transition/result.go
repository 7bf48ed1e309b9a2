// Package transition resolves a step result against a state's transitions.
//
// Entry actions and decision functions report a [Result]: a concrete
// outcome, a retry or fail request, an explicit wait, or an exception. The
// [Evaluator] turns that result into a [Decision] naming the next state and
// the delay before it runs, enforcing per-(state, outcome) attempt budgets.
package transition

import (
	"fmt"
	"time"
)

// Kind discriminates a Result.
type Kind int

const (
	// KindSuccess reports the "success" outcome.
	KindSuccess Kind = iota
	// KindOutcome reports a named outcome.
	KindOutcome
	// KindRetry reports the "retry" outcome, optionally with a delay.
	KindRetry
	// KindWait parks the task in its current state without consuming budget.
	KindWait
	// KindFail reports the "fail" outcome with a message.
	KindFail
	// KindException reports an error raised by an entry action or decision.
	KindException
	// KindPoll parks the task in its current state and resumes at the
	// decision function, skipping the entry action.
	KindPoll
)

// Well-known outcome labels produced by the Result constructors.
const (
	OutcomeSuccess = "success"
	OutcomeRetry   = "retry"
	OutcomeFail    = "fail"
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindOutcome:
		return "outcome"
	case KindRetry:
		return "retry"
	case KindWait:
		return "wait"
	case KindFail:
		return "fail"
	case KindException:
		return "exception"
	case KindPoll:
		return "poll"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is what one step reports back to the evaluator.
type Result struct {
	Kind    Kind
	Outcome string
	Delay   time.Duration
	Message string
	Err     error
}

// Success reports the "success" outcome.
func Success() Result { return Result{Kind: KindSuccess, Outcome: OutcomeSuccess} }

// Outcome reports a named outcome.
func Outcome(name string) Result { return Result{Kind: KindOutcome, Outcome: name} }

// Retry reports the "retry" outcome. A non-zero delay overrides the
// transition's wait.
func Retry(delay time.Duration) Result {
	return Result{Kind: KindRetry, Outcome: OutcomeRetry, Delay: delay}
}

// Wait keeps the task in its current state for delay, then re-runs the
// entry action. It never counts against an attempt budget.
func Wait(delay time.Duration) Result { return Result{Kind: KindWait, Delay: delay} }

// Poll keeps the task in its current state for delay, then re-invokes only
// the decision function. Like Wait, it never counts against a budget.
func Poll(delay time.Duration) Result { return Result{Kind: KindPoll, Delay: delay} }

// Fail reports the "fail" outcome. The message becomes the exit message if
// the task ends on this path.
func Fail(msg string) Result { return Result{Kind: KindFail, Outcome: OutcomeFail, Message: msg} }

// Exception reports an error. It is routed through the "!" transition only.
func Exception(err error) Result { return Result{Kind: KindException, Err: err} }

// Label returns the outcome label the result is matched under.
func (r Result) Label() string {
	switch r.Kind {
	case KindException:
		return "!"
	case KindWait, KindPoll:
		return ""
	default:
		return r.Outcome
	}
}

func (r Result) String() string {
	switch r.Kind {
	case KindException:
		if r.Err != nil {
			return "exception: " + r.Err.Error()
		}
		return "exception"
	case KindWait, KindPoll:
		return r.Kind.String() + " " + r.Delay.String()
	default:
		return r.Outcome
	}
}
