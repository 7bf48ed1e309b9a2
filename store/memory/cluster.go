package memory

import (
	"context"
	"maps"
	"slices"
	"sort"
	"time"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/cluster"
	"github.com/xraph/stepflow/id"
)

func cloneServer(s *cluster.Server) *cluster.Server {
	cp := *s
	cp.Capabilities = slices.Clone(s.Capabilities)
	cp.Metadata = maps.Clone(s.Metadata)
	if s.LeaderUntil != nil {
		until := *s.LeaderUntil
		cp.LeaderUntil = &until
	}
	return &cp
}

// RegisterServer adds or replaces a server in the cluster registry.
func (m *Store) RegisterServer(_ context.Context, s *cluster.Server) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.servers[s.ID.String()] = cloneServer(s)
	return nil
}

// DeregisterServer removes a server from the cluster registry.
func (m *Store) DeregisterServer(_ context.Context, serverID id.ServerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := serverID.String()
	if _, ok := m.servers[key]; !ok {
		return stepflow.ErrServerNotFound
	}
	delete(m.servers, key)
	if m.leader == key {
		m.leader = ""
	}
	return nil
}

// HeartbeatServer updates the last-seen timestamp for a server.
func (m *Store) HeartbeatServer(_ context.Context, serverID id.ServerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.servers[serverID.String()]
	if !ok {
		return stepflow.ErrServerNotFound
	}
	s.LastSeen = m.clock()
	if s.State == cluster.ServerDead {
		s.State = cluster.ServerActive
	}
	return nil
}

// ListServers returns all registered servers, oldest first.
func (m *Store) ListServers(_ context.Context) ([]*cluster.Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*cluster.Server, 0, len(m.servers))
	for _, s := range m.servers {
		result = append(result, m.withLeadership(s))
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})
	return result, nil
}

// ReapDeadServers marks servers whose last-seen timestamp is older than
// threshold as dead and returns them. Servers already marked dead are not
// returned again.
func (m *Store) ReapDeadServers(_ context.Context, threshold time.Duration) ([]*cluster.Server, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.clock().Add(-threshold)
	var dead []*cluster.Server
	for _, s := range m.servers {
		if s.State != cluster.ServerDead && s.LastSeen.Before(cutoff) {
			s.State = cluster.ServerDead
			dead = append(dead, cloneServer(s))
		}
	}
	return dead, nil
}

// AcquireLeadership attempts to become the cluster leader.
func (m *Store) AcquireLeadership(_ context.Context, serverID id.ServerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	key := serverID.String()

	// If there's already a leader whose TTL hasn't expired and it's not us, fail.
	if m.leader != "" && m.leaderUntil.After(now) && m.leader != key {
		return false, nil
	}
	m.leader = key
	m.leaderUntil = now.Add(ttl)
	return true, nil
}

// RenewLeadership extends the leader's hold.
func (m *Store) RenewLeadership(_ context.Context, serverID id.ServerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if m.leader != serverID.String() || !m.leaderUntil.After(now) {
		return false, nil
	}
	m.leaderUntil = now.Add(ttl)
	return true, nil
}

// GetLeader returns the current cluster leader, or nil if there is no leader.
func (m *Store) GetLeader(_ context.Context) (*cluster.Server, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.leader == "" || !m.leaderUntil.After(m.clock()) {
		return nil, nil
	}
	s, ok := m.servers[m.leader]
	if !ok {
		sID, err := id.ParseServerID(m.leader)
		if err != nil {
			return nil, nil
		}
		s = &cluster.Server{ID: sID}
	}
	return m.withLeadership(s), nil
}

// withLeadership copies s with its leader fields derived from the lease.
// The caller must hold m.mu.
func (m *Store) withLeadership(s *cluster.Server) *cluster.Server {
	cp := cloneServer(s)
	cp.IsLeader = m.leader == s.ID.String() && m.leaderUntil.After(m.clock())
	cp.LeaderUntil = nil
	if cp.IsLeader {
		until := m.leaderUntil
		cp.LeaderUntil = &until
	}
	return cp
}
