// Package group enforces per-group and per-task-type admission limits on a
// single server.
//
// Every task carries a group name (default "default"). A [Manager] caps how
// many steps of a group may run at once on this server and how fast new
// steps of the group may start, using a token bucket from
// golang.org/x/time/rate. A [TypeConfig] applies the same two limits to
// one task type regardless of its group.
//
//	m := group.NewManager(
//	    group.Config{Name: "infra", MaxConcurrency: 4},
//	    group.Config{Name: "bulk", RateLimit: 2, RateBurst: 5},
//	)
//	if m.Acquire(t.Group, t.Type) {
//	    defer m.Release(t.Group, t.Type)
//	    // run one step
//	}
//
// Groups without a [Config] have no limits beyond the scheduler's own
// concurrency. Pausing a group is a separate, cluster-wide concern handled
// by package control.
package group
