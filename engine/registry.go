package engine

import (
	"context"
	"time"

	"github.com/xraph/stepflow/cluster"
	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/store"
)

// registryStore serves the scheduler pool from the main store while
// routing the cluster registry to a separate cluster.Store.
type registryStore struct {
	store.Store
	registry cluster.Store
}

func (r *registryStore) RegisterServer(ctx context.Context, s *cluster.Server) error {
	return r.registry.RegisterServer(ctx, s)
}

func (r *registryStore) DeregisterServer(ctx context.Context, serverID id.ServerID) error {
	return r.registry.DeregisterServer(ctx, serverID)
}

func (r *registryStore) HeartbeatServer(ctx context.Context, serverID id.ServerID) error {
	return r.registry.HeartbeatServer(ctx, serverID)
}

func (r *registryStore) ListServers(ctx context.Context) ([]*cluster.Server, error) {
	return r.registry.ListServers(ctx)
}

func (r *registryStore) ReapDeadServers(ctx context.Context, threshold time.Duration) ([]*cluster.Server, error) {
	return r.registry.ReapDeadServers(ctx, threshold)
}

func (r *registryStore) AcquireLeadership(ctx context.Context, serverID id.ServerID, ttl time.Duration) (bool, error) {
	return r.registry.AcquireLeadership(ctx, serverID, ttl)
}

func (r *registryStore) RenewLeadership(ctx context.Context, serverID id.ServerID, ttl time.Duration) (bool, error) {
	return r.registry.RenewLeadership(ctx, serverID, ttl)
}

func (r *registryStore) GetLeader(ctx context.Context) (*cluster.Server, error) {
	return r.registry.GetLeader(ctx)
}
