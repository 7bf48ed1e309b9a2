// Package statetable compiles the state-table DSL into a graph of states
// and outcome-keyed transitions.
//
// A table is a sequence of state blocks:
//
//	# comments and blank lines are ignored
//	provision:checkHost [ssh,cloud] {
//	  ok        deploy
//	  retry     provision wait=30 max=5
//	  pending   provision wait=10 exec=false
//	  *         cleanup
//	  !         cleanup
//	}
//	deploy { *:finish }
//
// A block names a state, an optional decision function after a colon and
// optional capability tags in brackets. Each entry maps an outcome (a
// concrete label, the wildcard "*" or the exception marker "!") to a
// target state, with optional wait (seconds), max (attempt budget, 0 means
// unbounded) and exec (re-run the entry action on resume, default true).
// Entries are separated by newlines or ";", and outcome and target may be
// separated by ":" so that whole blocks fit on one line.
//
// The first declared state is the initial state. The targets "finish" and
// "terminate" end the task and cannot be declared as blocks.
//
// [Parse] checks syntax and local structure only. [Table.Validate] checks
// that every target exists; the task registry calls it at load time along
// with the capability-table checks.
package statetable
