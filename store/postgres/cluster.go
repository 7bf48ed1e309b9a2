package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/cluster"
	"github.com/xraph/stepflow/id"
)

const serverColumns = `s.id, s.hostname, s.capabilities, s.concurrency, s.state,
	s.last_seen, s.metadata, s.created_at`

// RegisterServer adds or replaces a server in the cluster registry.
func (s *Store) RegisterServer(ctx context.Context, srv *cluster.Server) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stepflow_servers (
			id, hostname, capabilities, concurrency, state, last_seen, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			capabilities = EXCLUDED.capabilities,
			concurrency = EXCLUDED.concurrency,
			state = EXCLUDED.state,
			last_seen = EXCLUDED.last_seen,
			metadata = EXCLUDED.metadata`,
		srv.ID.String(), srv.Hostname, nonNil(srv.Capabilities), srv.Concurrency,
		string(srv.State), srv.LastSeen, srv.Metadata, srv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("stepflow/postgres: register server: %w", err)
	}
	return nil
}

// DeregisterServer removes a server and any leadership it held.
func (s *Store) DeregisterServer(ctx context.Context, serverID id.ServerID) error {
	sID := serverID.String()
	tag, err := s.pool.Exec(ctx, `DELETE FROM stepflow_servers WHERE id = $1`, sID)
	if err != nil {
		return fmt.Errorf("stepflow/postgres: deregister server: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return stepflow.ErrServerNotFound
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM stepflow_leader WHERE server_id = $1`, sID); err != nil {
		s.logger.Warn("failed to clear leadership of deregistered server",
			"server_id", sID, "error", err)
	}
	return nil
}

// HeartbeatServer updates the last-seen timestamp for a server. A server
// reaped as dead becomes active again.
func (s *Store) HeartbeatServer(ctx context.Context, serverID id.ServerID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stepflow_servers SET
			last_seen = $2,
			state = CASE WHEN state = $3 THEN $4 ELSE state END
		WHERE id = $1`,
		serverID.String(), s.clock(), string(cluster.ServerDead), string(cluster.ServerActive),
	)
	if err != nil {
		return fmt.Errorf("stepflow/postgres: heartbeat server: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return stepflow.ErrServerNotFound
	}
	return nil
}

// ListServers returns all registered servers, oldest first, with their
// leadership derived from the current lease.
func (s *Store) ListServers(ctx context.Context) ([]*cluster.Server, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+serverColumns+`, l.leader_until
		FROM stepflow_servers s
		LEFT JOIN stepflow_leader l ON l.server_id = s.id AND l.leader_until > $1
		ORDER BY s.created_at ASC`,
		s.clock(),
	)
	if err != nil {
		return nil, fmt.Errorf("stepflow/postgres: list servers: %w", err)
	}
	defer rows.Close()

	servers := make([]*cluster.Server, 0)
	for rows.Next() {
		var until *time.Time
		srv, err := scanServer(rows, &until)
		if err != nil {
			return nil, fmt.Errorf("stepflow/postgres: scan server: %w", err)
		}
		if until != nil {
			srv.IsLeader = true
			srv.LeaderUntil = utcPtr(until)
		}
		servers = append(servers, srv)
	}
	return servers, rows.Err()
}

// ReapDeadServers marks servers whose last-seen timestamp is older than
// threshold as dead and returns them.
func (s *Store) ReapDeadServers(ctx context.Context, threshold time.Duration) ([]*cluster.Server, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE stepflow_servers s SET state = $1
		WHERE s.state <> $1 AND s.last_seen < $2
		RETURNING `+serverColumns,
		string(cluster.ServerDead), s.clock().Add(-threshold),
	)
	if err != nil {
		return nil, fmt.Errorf("stepflow/postgres: reap dead servers: %w", err)
	}
	defer rows.Close()

	var dead []*cluster.Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			return nil, fmt.Errorf("stepflow/postgres: scan server: %w", err)
		}
		dead = append(dead, srv)
	}
	return dead, rows.Err()
}

// AcquireLeadership attempts to become the cluster leader. The lease row
// is taken over only when it is ours or has lapsed.
func (s *Store) AcquireLeadership(ctx context.Context, serverID id.ServerID, ttl time.Duration) (bool, error) {
	now := s.clock()
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO stepflow_leader (id, server_id, leader_until) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET
			server_id = EXCLUDED.server_id,
			leader_until = EXCLUDED.leader_until
		WHERE stepflow_leader.server_id = EXCLUDED.server_id
			OR stepflow_leader.leader_until <= $3`,
		serverID.String(), now.Add(ttl), now,
	)
	if err != nil {
		return false, fmt.Errorf("stepflow/postgres: acquire leadership: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RenewLeadership extends the leader's hold.
func (s *Store) RenewLeadership(ctx context.Context, serverID id.ServerID, ttl time.Duration) (bool, error) {
	now := s.clock()
	tag, err := s.pool.Exec(ctx, `
		UPDATE stepflow_leader SET leader_until = $2
		WHERE id = 1 AND server_id = $1 AND leader_until > $3`,
		serverID.String(), now.Add(ttl), now,
	)
	if err != nil {
		return false, fmt.Errorf("stepflow/postgres: renew leadership: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetLeader returns the current cluster leader, or nil if there is no leader.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Server, error) {
	var (
		sID   string
		until time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT server_id, leader_until FROM stepflow_leader WHERE id = 1 AND leader_until > $1`,
		s.clock(),
	).Scan(&sID, &until)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stepflow/postgres: get leader: %w", err)
	}
	until = until.UTC()

	srv, err := scanServer(s.pool.QueryRow(ctx,
		`SELECT `+serverColumns+` FROM stepflow_servers s WHERE s.id = $1`, sID,
	))
	if err != nil {
		if !isNoRows(err) {
			return nil, fmt.Errorf("stepflow/postgres: get leader server: %w", err)
		}
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

// scanServer scans serverColumns followed by any extra destinations.
func scanServer(row pgx.Row, extra ...any) (*cluster.Server, error) {
	var (
		srv   cluster.Server
		sID   string
		state string
	)
	dest := []any{&sID, &srv.Hostname, &srv.Capabilities, &srv.Concurrency, &state,
		&srv.LastSeen, &srv.Metadata, &srv.CreatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	var err error
	if srv.ID, err = id.ParseServerID(sID); err != nil {
		return nil, err
	}
	srv.State = cluster.ServerState(state)
	srv.LastSeen = srv.LastSeen.UTC()
	srv.CreatedAt = srv.CreatedAt.UTC()
	return &srv, nil
}
