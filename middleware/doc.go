// Package middleware provides composable middleware for task steps.
//
// A [Middleware] wraps one step of one task. Middleware are composed into
// a chain using [Chain] and applied by the scheduler around every step.
// They are applied right-to-left: the first middleware in the slice is the
// outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] logs the task, state and duration of each step
//   - [Recover] turns panics into errors
//   - [Timeout] cancels the step context after the type's deadline
//   - [Tracing] wraps each step in an OpenTelemetry span
//   - [Metrics] records step duration and outcome counters
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
