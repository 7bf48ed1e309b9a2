// Package observability provides a metrics extension for stepflow. The
// MetricsExtension implements lifecycle hooks to record system-wide
// counters for task submission, steps, parking, completion, termination,
// failure, signal and cron events.
//
// For per-step tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
