// Package ext defines the extension system for stepflow.
//
// Extensions are notified of task lifecycle events and can react to
// them, recording metrics or writing audit logs. Each lifecycle hook is a
// separate interface so extensions opt in only to the events they care
// about.
//
// # Implementing an Extension
//
//	type MyExtension struct{}
//
//	func (e *MyExtension) Name() string { return "my-extension" }
//
//	func (e *MyExtension) OnTaskFinished(ctx context.Context, t *task.Task) error {
//	    log.Printf("task %s ended %s", t.ID, t.ExitStatus)
//	    return nil
//	}
//
// # Task Lifecycle Hooks
//
//   - [TaskSubmitted]: task was persisted
//   - [StepCompleted]: a step ran and its result was persisted
//   - [TaskWaiting]: a step parked the task until a time or a signal
//   - [TaskFinished]: task completed or was terminated
//   - [TaskFailed]: task ended with error-user or error-system
//
// # Other Hooks
//
//   - [SignalResolved]: a signal callback was resolved
//   - [CronFired]: a cron entry fired and a task was submitted
//   - [Shutdown]: the server is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
