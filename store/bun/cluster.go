package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/cluster"
	"github.com/xraph/stepflow/id"
)

const leaderRow = 1

// RegisterServer adds or replaces a server in the cluster registry.
func (s *Store) RegisterServer(ctx context.Context, srv *cluster.Server) error {
	_, err := s.db.NewInsert().Model(toServerModel(srv)).
		On("CONFLICT (id) DO UPDATE").
		Set("hostname = EXCLUDED.hostname").
		Set("capabilities = EXCLUDED.capabilities").
		Set("concurrency = EXCLUDED.concurrency").
		Set("state = EXCLUDED.state").
		Set("last_seen = EXCLUDED.last_seen").
		Set("metadata = EXCLUDED.metadata").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stepflow/bun: register server: %w", err)
	}
	return nil
}

// DeregisterServer removes a server and any leadership it held.
func (s *Store) DeregisterServer(ctx context.Context, serverID id.ServerID) error {
	sID := serverID.String()
	res, err := s.db.NewDelete().Model((*serverModel)(nil)).
		Where("id = ?", sID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stepflow/bun: deregister server: %w", err)
	}
	if affected(res) == 0 {
		return stepflow.ErrServerNotFound
	}
	_, err = s.db.NewDelete().Model((*leaderModel)(nil)).
		Where("server_id = ?", sID).
		Exec(ctx)
	if err != nil {
		s.logger.Warn("failed to clear leadership of deregistered server",
			"server_id", sID, "error", err)
	}
	return nil
}

// HeartbeatServer updates the last-seen timestamp for a server. A server
// reaped as dead becomes active again.
func (s *Store) HeartbeatServer(ctx context.Context, serverID id.ServerID) error {
	res, err := s.db.NewUpdate().Model((*serverModel)(nil)).
		Set("last_seen = ?", s.clock()).
		Set("state = CASE WHEN state = ? THEN ? ELSE state END",
			string(cluster.ServerDead), string(cluster.ServerActive)).
		Where("id = ?", serverID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stepflow/bun: heartbeat server: %w", err)
	}
	if affected(res) == 0 {
		return stepflow.ErrServerNotFound
	}
	return nil
}

// ListServers returns all registered servers, oldest first.
func (s *Store) ListServers(ctx context.Context) ([]*cluster.Server, error) {
	var models []serverModel
	if err := s.db.NewSelect().Model(&models).Order("created_at ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("stepflow/bun: list servers: %w", err)
	}
	servers, err := fromServerModels(models)
	if err != nil {
		return nil, err
	}
	lease, err := s.lease(ctx)
	if err != nil {
		return nil, err
	}
	if lease != nil {
		for _, srv := range servers {
			if srv.ID.String() == lease.ServerID {
				until := lease.LeaderUntil.UTC()
				srv.IsLeader = true
				srv.LeaderUntil = &until
			}
		}
	}
	return servers, nil
}

// ReapDeadServers marks servers whose last-seen timestamp is older than
// threshold as dead and returns them.
func (s *Store) ReapDeadServers(ctx context.Context, threshold time.Duration) ([]*cluster.Server, error) {
	var models []serverModel
	_, err := s.db.NewUpdate().Model((*serverModel)(nil)).
		Set("state = ?", string(cluster.ServerDead)).
		Where("state <> ?", string(cluster.ServerDead)).
		Where("last_seen < ?", s.clock().Add(-threshold)).
		Returning("*").
		Exec(ctx, &models)
	if err != nil {
		return nil, fmt.Errorf("stepflow/bun: reap dead servers: %w", err)
	}
	return fromServerModels(models)
}

// AcquireLeadership attempts to become the cluster leader. The lease row
// is taken over only when it is ours or has lapsed.
func (s *Store) AcquireLeadership(ctx context.Context, serverID id.ServerID, ttl time.Duration) (bool, error) {
	now := s.clock()
	m := &leaderModel{ID: leaderRow, ServerID: serverID.String(), LeaderUntil: now.Add(ttl)}
	res, err := s.db.NewInsert().Model(m).
		On("CONFLICT (id) DO UPDATE").
		Set("server_id = EXCLUDED.server_id").
		Set("leader_until = EXCLUDED.leader_until").
		Where("ld.server_id = EXCLUDED.server_id OR ld.leader_until <= ?", now).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("stepflow/bun: acquire leadership: %w", err)
	}
	return affected(res) == 1, nil
}

// RenewLeadership extends the leader's hold.
func (s *Store) RenewLeadership(ctx context.Context, serverID id.ServerID, ttl time.Duration) (bool, error) {
	now := s.clock()
	res, err := s.db.NewUpdate().Model((*leaderModel)(nil)).
		Set("leader_until = ?", now.Add(ttl)).
		Where("id = ?", leaderRow).
		Where("server_id = ?", serverID.String()).
		Where("leader_until > ?", now).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("stepflow/bun: renew leadership: %w", err)
	}
	return affected(res) == 1, nil
}

// GetLeader returns the current cluster leader, or nil if there is no leader.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Server, error) {
	lease, err := s.lease(ctx)
	if err != nil || lease == nil {
		return nil, err
	}

	var srv *cluster.Server
	m := new(serverModel)
	err = s.db.NewSelect().Model(m).Where("id = ?", lease.ServerID).Scan(ctx)
	switch {
	case err == nil:
		if srv, err = fromServerModel(m); err != nil {
			return nil, err
		}
	case isNoRows(err):
		sID, parseErr := id.ParseServerID(lease.ServerID)
		if parseErr != nil {
			return nil, nil
		}
		srv = &cluster.Server{ID: sID}
	default:
		return nil, fmt.Errorf("stepflow/bun: get leader server: %w", err)
	}
	until := lease.LeaderUntil.UTC()
	srv.IsLeader = true
	srv.LeaderUntil = &until
	return srv, nil
}

// lease returns the unexpired leadership lease, or nil.
func (s *Store) lease(ctx context.Context) (*leaderModel, error) {
	m := new(leaderModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", leaderRow).
		Where("leader_until > ?", s.clock()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stepflow/bun: get leader: %w", err)
	}
	return m, nil
}

func fromServerModels(models []serverModel) ([]*cluster.Server, error) {
	servers := make([]*cluster.Server, 0, len(models))
	for i := range models {
		srv, err := fromServerModel(&models[i])
		if err != nil {
			return nil, err
		}
		servers = append(servers, srv)
	}
	return servers, nil
}
