// Package task defines the task entity, typed task definitions, the
// compiled type registry and the per-step execution context.
//
// # Task Entity
//
// A [Task] is one instance of work driven through a state table. It moves
// through execution phases:
//
//	before-start → started → (waiting | running-children → started)* → finished
//	any phase → terminating → finished
//
// and ends with one [ExitStatus]: complete, terminated, error-user or
// error-system.
//
// # Defining a Task Type
//
// A [Definition] pairs DSL text with entry actions keyed by state and
// decision functions keyed by the names the table uses:
//
//	var Provision = task.NewDefinition[Host]("provision", `
//	    boot:booted { ok configure; retry boot wait=10 max=30; ! teardown }
//	    configure { * finish; ! teardown }
//	    teardown { * terminate }
//	`).
//	    Entry("boot", func(s *task.Step[Host]) error {
//	        return cloud.Boot(s.Context(), s.Object.Name)
//	    }).
//	    Decision("booted", func(s *task.Step[Host]) transition.Result {
//	        if cloud.Ready(s.Object.Name) {
//	            return transition.Outcome("ok")
//	        }
//	        return transition.Retry(0)
//	    })
//
// [RegisterDefinition] compiles the definition once. Unknown decision
// functions, entry actions for undeclared states and targets that point
// nowhere are reported as [ConfigurationError] at registration rather
// than when a task reaches them.
//
// # Fan-out
//
// Entry actions spawn children with [Context.Spawn]. A state that uses
// the built-in "children" decision aggregates their exit statuses.
package task
