// Package stepflow provides a distributed, crash-resumable task engine that
// drives long-lived operational workflows as state machines.
//
// Each task type is described by a small state-table DSL plus a capability
// table of Go functions: one optional entry action per state and named
// decision functions that pick the outcome. Servers poll a shared store,
// claim a task under a distributed lock, run exactly one step and persist
// the result before releasing the claim. Any server can run the next step.
//
// # Quick Start
//
//	srv, err := stepflow.New(
//	    stepflow.WithStore(pgStore),
//	    stepflow.WithConcurrency(20),
//	)
//	eng, err := engine.Build(srv)
//	err = engine.Register(eng, rotateKeys)
//	t, err := engine.Submit(ctx, eng, "rotate-keys", KeyRotation{Host: "db1"})
//
// # Architecture
//
// Each subsystem (task, lock, signal, control, cluster, cron) defines its
// own store interface. A single backend (memory, redis, postgres, bun,
// mongo) implements all of them. The cluster registry can instead live in
// Kubernetes (cluster/k8s).
//
// All entity IDs use TypeID: type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package stepflow
