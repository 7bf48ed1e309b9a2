// Package iterator drives one task's state machine forward by one step.
//
// An [Iterator] owns a task record for the duration of a step. A step
// runs the current state's entry action (unless the previous transition
// asked to skip it), creates any children the entry spawned, asks the
// decision function for a result, resolves that result against the state
// table and persists the new state, counters, scratch context and wait
// timer before returning. A later step, possibly on another server, sees
// exactly what this one wrote.
//
// Entry and decision failures never escape a step. Returned errors and
// panics become exceptions routed through the state's "!" transition; a
// task with no route for a result ends with an error exit status.
//
// The [Executor] holds the collaborators shared by all iterators and runs
// each step through the middleware chain. The scheduler calls
// [Executor.Step] while holding the task's lock.
package iterator
