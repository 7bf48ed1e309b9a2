package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/cluster"
	"github.com/xraph/stepflow/id"
)

// RegisterServer adds or replaces a server in the cluster registry.
// Liveness and state are kept in their own fields so that heartbeats and
// reaping do not rewrite the document.
func (s *Store) RegisterServer(ctx context.Context, srv *cluster.Server) error {
	cp := *srv
	cp.IsLeader = false
	cp.LeaderUntil = nil
	doc, err := encodeDoc(&cp)
	if err != nil {
		return err
	}
	sID := srv.ID.String()
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.keys.server(sID),
		fieldDoc, doc,
		"state", string(srv.State),
		"last_seen", stamp(srv.LastSeen),
	)
	pipe.ZAdd(ctx, s.keys.servers(), goredis.Z{Score: score(srv.CreatedAt), Member: sID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("stepflow/redis: register server: %w", err)
	}
	return nil
}

// DeregisterServer removes a server from the cluster registry.
func (s *Store) DeregisterServer(ctx context.Context, serverID id.ServerID) error {
	sID := serverID.String()
	n, err := s.client.Del(ctx, s.keys.server(sID)).Result()
	if err != nil {
		return fmt.Errorf("stepflow/redis: deregister server: %w", err)
	}
	if n == 0 {
		return stepflow.ErrServerNotFound
	}
	if err := s.client.ZRem(ctx, s.keys.servers(), sID).Err(); err != nil {
		return fmt.Errorf("stepflow/redis: deregister server index: %w", err)
	}
	if err := clearLeaderScript.Run(ctx, s.client, []string{s.keys.leader()}, sID).Err(); err != nil {
		s.logger.Warn("failed to clear leadership of deregistered server",
			"server_id", sID, "error", err)
	}
	return nil
}

// HeartbeatServer updates the last-seen timestamp for a server.
func (s *Store) HeartbeatServer(ctx context.Context, serverID id.ServerID) error {
	n, err := heartbeatScript.Run(ctx, s.client,
		[]string{s.keys.server(serverID.String())},
		stamp(s.clock()),
	).Int()
	if err != nil {
		return fmt.Errorf("stepflow/redis: heartbeat server: %w", err)
	}
	if n == 0 {
		return stepflow.ErrServerNotFound
	}
	return nil
}

func (s *Store) getServer(ctx context.Context, sID string) (*cluster.Server, error) {
	vals, err := s.client.HMGet(ctx, s.keys.server(sID), fieldDoc, "state", "last_seen").Result()
	if err != nil {
		return nil, fmt.Errorf("stepflow/redis: get server: %w", err)
	}
	doc, ok := vals[0].(string)
	if !ok {
		return nil, stepflow.ErrServerNotFound
	}
	var srv cluster.Server
	if err := json.Unmarshal([]byte(doc), &srv); err != nil {
		return nil, fmt.Errorf("stepflow/redis: decode server: %w", err)
	}
	if v, ok := vals[1].(string); ok {
		srv.State = cluster.ServerState(v)
	}
	if v, ok := vals[2].(string); ok {
		srv.LastSeen = parseStamp(v)
	}
	return &srv, nil
}

// ListServers returns all registered servers, oldest first.
func (s *Store) ListServers(ctx context.Context) ([]*cluster.Server, error) {
	sIDs, err := s.client.ZRange(ctx, s.keys.servers(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("stepflow/redis: list servers: %w", err)
	}
	leaderID, until, err := s.lease(ctx)
	if err != nil {
		return nil, err
	}
	servers := make([]*cluster.Server, 0, len(sIDs))
	for _, sID := range sIDs {
		srv, err := s.getServer(ctx, sID)
		if err != nil {
			continue
		}
		if sID == leaderID {
			srv.IsLeader = true
			srv.LeaderUntil = &until
		}
		servers = append(servers, srv)
	}
	return servers, nil
}

// ReapDeadServers marks servers whose last-seen timestamp is older than
// threshold as dead and returns them.
func (s *Store) ReapDeadServers(ctx context.Context, threshold time.Duration) ([]*cluster.Server, error) {
	sIDs, err := s.client.ZRange(ctx, s.keys.servers(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("stepflow/redis: reap list: %w", err)
	}
	cutoff := stamp(s.clock().Add(-threshold))
	var dead []*cluster.Server
	for _, sID := range sIDs {
		n, err := reapServerScript.Run(ctx, s.client, []string{s.keys.server(sID)}, cutoff).Int()
		if err != nil {
			return dead, fmt.Errorf("stepflow/redis: reap server: %w", err)
		}
		if n == 0 {
			continue
		}
		srv, err := s.getServer(ctx, sID)
		if err != nil {
			continue
		}
		dead = append(dead, srv)
	}
	return dead, nil
}

// AcquireLeadership attempts to become the cluster leader.
func (s *Store) AcquireLeadership(ctx context.Context, serverID id.ServerID, ttl time.Duration) (bool, error) {
	now := s.clock()
	n, err := acquireLeaderScript.Run(ctx, s.client,
		[]string{s.keys.leader()},
		serverID.String(), stamp(now), stamp(now.Add(ttl)),
	).Int()
	if err != nil {
		return false, fmt.Errorf("stepflow/redis: acquire leadership: %w", err)
	}
	return n == 1, nil
}

// RenewLeadership extends the leader's hold.
func (s *Store) RenewLeadership(ctx context.Context, serverID id.ServerID, ttl time.Duration) (bool, error) {
	now := s.clock()
	n, err := renewLeaderScript.Run(ctx, s.client,
		[]string{s.keys.leader()},
		serverID.String(), stamp(now), stamp(now.Add(ttl)),
	).Int()
	if err != nil {
		return false, fmt.Errorf("stepflow/redis: renew leadership: %w", err)
	}
	return n == 1, nil
}

// lease returns the current leader and its expiry, or "" when the lease
// is absent or lapsed.
func (s *Store) lease(ctx context.Context) (string, time.Time, error) {
	vals, err := s.client.HMGet(ctx, s.keys.leader(), "server", "until").Result()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("stepflow/redis: get leader: %w", err)
	}
	sID, ok := vals[0].(string)
	if !ok {
		return "", time.Time{}, nil
	}
	var until time.Time
	if v, ok := vals[1].(string); ok {
		until = parseStamp(v)
	}
	if !until.After(s.clock()) {
		return "", time.Time{}, nil
	}
	return sID, until, nil
}

// GetLeader returns the current cluster leader, or nil if there is no leader.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Server, error) {
	sID, until, err := s.lease(ctx)
	if err != nil || sID == "" {
		return nil, err
	}
	srv, err := s.getServer(ctx, sID)
	if err != nil {
		parsed, parseErr := id.ParseServerID(sID)
		if parseErr != nil {
			return nil, nil
		}
		srv = &cluster.Server{ID: parsed}
	}
	srv.IsLeader = true
	srv.LeaderUntil = &until
	return srv, nil
}
