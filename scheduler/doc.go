// Package scheduler runs the claim loop of one server.
//
// A [Pool] owns a fixed number of slots. Each slot repeatedly reads the
// shared pause flags, lists claimable tasks ordered by priority then age,
// takes the first one whose "task:<id>" lock it can acquire without
// waiting, runs exactly one step through a [Stepper], and releases the
// lock. A pass that claims nothing backs off with an idle strategy from
// package backoff, so response latency after a signal is bounded by the
// poll interval rather than by a task's wait timer.
//
// Limits applied on every pass:
//
//   - Pause and maintenance flags from package control. A hard pause or
//     maintenance halts all claims; a soft pause only keeps tasks that have
//     not started from starting. Group pauses scope the same rules to one
//     group.
//   - The server's capability tags: a task is claimed only when the tags of
//     its current state are a subset.
//   - An optional cluster-wide ceiling, counted as held task locks.
//   - An optional [Limiter] for per-group and per-type ceilings.
//
// The pool also registers its server, heartbeats it, renews the locks of
// in-flight steps, and, while it holds cluster leadership, releases the
// locks of servers that stopped heartbeating.
package scheduler
