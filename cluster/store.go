package cluster

import (
	"context"
	"time"

	"github.com/xraph/stepflow/id"
)

// Store defines the persistence contract for cluster server management.
type Store interface {
	// RegisterServer adds a server to the cluster registry, replacing any
	// previous record with the same ID.
	RegisterServer(ctx context.Context, s *Server) error

	// DeregisterServer removes a server from the cluster registry.
	DeregisterServer(ctx context.Context, serverID id.ServerID) error

	// HeartbeatServer updates the last-seen timestamp for a server.
	HeartbeatServer(ctx context.Context, serverID id.ServerID) error

	// ListServers returns all registered servers.
	ListServers(ctx context.Context) ([]*Server, error)

	// ReapDeadServers marks servers whose last-seen timestamp is older
	// than threshold as dead and returns them.
	ReapDeadServers(ctx context.Context, threshold time.Duration) ([]*Server, error)

	// AcquireLeadership attempts to become the cluster leader.
	// Returns true if this server is now leader. The leadership
	// expires after ttl if not renewed.
	AcquireLeadership(ctx context.Context, serverID id.ServerID, ttl time.Duration) (bool, error)

	// RenewLeadership extends the leader's hold. Must be called
	// before the TTL expires.
	RenewLeadership(ctx context.Context, serverID id.ServerID, ttl time.Duration) (bool, error)

	// GetLeader returns the current cluster leader, or nil if there
	// is no leader.
	GetLeader(ctx context.Context) (*Server, error)
}
