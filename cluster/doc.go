// Package cluster provides server registration, liveness tracking and
// leader election for a stepflow deployment.
//
// # Server Entity
//
// Each running stepflow process registers itself as a [Server] with:
//   - a unique [id.ServerID]
//   - its hostname
//   - the capability tags it advertises
//   - its concurrency limit
//   - a state: [ServerActive], [ServerDraining], or [ServerDead]
//
// Servers send periodic heartbeats. A server whose heartbeat is older than
// the configured threshold is considered dead; the leader releases every
// task lock it still holds so other servers can resume its tasks.
//
// # Leader Election
//
// One server at a time holds leadership, managed by
// [Store.AcquireLeadership] with a TTL. The leader fires cron entries and
// reaps dead servers. [Elector] runs the acquire/renew loop.
//
// # Kubernetes
//
// For Kubernetes deployments the cluster/k8s sub-package implements
// [Store] with Pod annotations and a coordination/v1 Lease.
package cluster
