// Package cron provides leader-only recurring task submission.
//
// Cron entries are stored in the backend and fired only by the cluster
// leader, under a per-entry distributed lock, so an entry fires at most
// once per due time even when several servers run.
//
// # Entry
//
// An [Entry] represents a recurring submission:
//   - Schedule: standard 5-field cron expression or descriptor ("@every 30s")
//   - TaskType: the registered task type to submit when fired
//   - Group: scheduling group override (optional)
//   - Object: domain object, already encoded with the type's codec
//   - Enabled: whether the entry fires
//
// # Scheduler
//
// The [Scheduler] evaluates due entries on every tick, takes the
// "cron:<name>" lock, submits the task, and advances LastRunAt and
// NextRunAt. The ext.CronFired hook fires after each submission.
package cron
