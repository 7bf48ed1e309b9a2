package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/cluster"
	"github.com/xraph/stepflow/id"
)

// RegisterServer adds a server to the cluster registry, replacing any
// previous record with the same ID.
func (s *Store) RegisterServer(ctx context.Context, srv *cluster.Server) error {
	m := toServerModel(srv)
	_, err := s.col(colServers).ReplaceOne(ctx,
		bson.D{{Key: "_id", Value: m.ID}}, m,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("stepflow/mongo: register server: %w", err)
	}
	return nil
}

// DeregisterServer removes a server and any leadership it held.
func (s *Store) DeregisterServer(ctx context.Context, serverID id.ServerID) error {
	sID := serverID.String()
	res, err := s.col(colServers).DeleteOne(ctx, bson.D{{Key: "_id", Value: sID}})
	if err != nil {
		return fmt.Errorf("stepflow/mongo: deregister server: %w", err)
	}
	if res.DeletedCount == 0 {
		return stepflow.ErrServerNotFound
	}
	_, err = s.col(colLeader).DeleteOne(ctx, bson.D{
		{Key: "_id", Value: leaderID},
		{Key: "server_id", Value: sID},
	})
	if err != nil {
		s.logger.Warn("failed to clear leadership of deregistered server",
			"server_id", sID, "error", err)
	}
	return nil
}

// HeartbeatServer updates the last-seen timestamp for a server. A server
// reaped as dead becomes active again.
func (s *Store) HeartbeatServer(ctx context.Context, serverID id.ServerID) error {
	res, err := s.col(colServers).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: serverID.String()}},
		mongod.Pipeline{
			{{Key: "$set", Value: bson.D{
				{Key: "last_seen", Value: s.clock()},
				{Key: "state", Value: bson.D{{Key: "$cond", Value: bson.A{
					bson.D{{Key: "$eq", Value: bson.A{"$state", string(cluster.ServerDead)}}},
					string(cluster.ServerActive),
					"$state",
				}}}},
			}}},
		},
	)
	if err != nil {
		return fmt.Errorf("stepflow/mongo: heartbeat server: %w", err)
	}
	if res.MatchedCount == 0 {
		return stepflow.ErrServerNotFound
	}
	return nil
}

// ListServers returns all registered servers, oldest first.
func (s *Store) ListServers(ctx context.Context) ([]*cluster.Server, error) {
	cursor, err := s.col(colServers).Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("stepflow/mongo: list servers: %w", err)
	}
	servers, err := decodeServers(ctx, cursor)
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
	stale := bson.D{
		{Key: "state", Value: bson.D{{Key: "$ne", Value: string(cluster.ServerDead)}}},
		{Key: "last_seen", Value: bson.D{{Key: "$lt", Value: s.clock().Add(-threshold)}}},
	}
	cursor, err := s.col(colServers).Find(ctx, stale)
	if err != nil {
		return nil, fmt.Errorf("stepflow/mongo: reap dead servers: %w", err)
	}
	candidates, err := decodeServers(ctx, cursor)
	if err != nil {
		return nil, err
	}

	var dead []*cluster.Server
	for _, srv := range candidates {
		// A heartbeat between the find and the update wins.
		filter := append(bson.D{{Key: "_id", Value: srv.ID.String()}}, stale...)
		res, err := s.col(colServers).UpdateOne(ctx, filter,
			bson.D{{Key: "$set", Value: bson.D{{Key: "state", Value: string(cluster.ServerDead)}}}},
		)
		if err != nil {
			return nil, fmt.Errorf("stepflow/mongo: mark server dead: %w", err)
		}
		if res.ModifiedCount == 1 {
			srv.State = cluster.ServerDead
			dead = append(dead, srv)
		}
	}
	return dead, nil
}

// AcquireLeadership attempts to become the cluster leader. The upsert
// matches only a lease that is ours or has lapsed; a live foreign lease
// makes the insert collide on _id.
func (s *Store) AcquireLeadership(ctx context.Context, serverID id.ServerID, ttl time.Duration) (bool, error) {
	sID := serverID.String()
	now := s.clock()
	_, err := s.col(colLeader).UpdateOne(ctx,
		bson.D{
			{Key: "_id", Value: leaderID},
			{Key: "$or", Value: bson.A{
				bson.D{{Key: "server_id", Value: sID}},
				bson.D{{Key: "leader_until", Value: bson.D{{Key: "$lte", Value: now}}}},
			}},
		},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "server_id", Value: sID},
			{Key: "leader_until", Value: now.Add(ttl)},
		}}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("stepflow/mongo: acquire leadership: %w", err)
	}
	return true, nil
}

// RenewLeadership extends the leader's hold.
func (s *Store) RenewLeadership(ctx context.Context, serverID id.ServerID, ttl time.Duration) (bool, error) {
	now := s.clock()
	res, err := s.col(colLeader).UpdateOne(ctx,
		bson.D{
			{Key: "_id", Value: leaderID},
			{Key: "server_id", Value: serverID.String()},
			{Key: "leader_until", Value: bson.D{{Key: "$gt", Value: now}}},
		},
		bson.D{{Key: "$set", Value: bson.D{{Key: "leader_until", Value: now.Add(ttl)}}}},
	)
	if err != nil {
		return false, fmt.Errorf("stepflow/mongo: renew leadership: %w", err)
	}
	return res.MatchedCount == 1, nil
}

// GetLeader returns the current cluster leader, or nil if there is no leader.
func (s *Store) GetLeader(ctx context.Context) (*cluster.Server, error) {
	lease, err := s.lease(ctx)
	if err != nil || lease == nil {
		return nil, err
	}

	var srv *cluster.Server
	var m serverModel
	err = s.col(colServers).FindOne(ctx, bson.D{{Key: "_id", Value: lease.ServerID}}).Decode(&m)
	switch {
	case err == nil:
		if srv, err = fromServerModel(&m); err != nil {
			return nil, err
		}
	case isNoDocuments(err):
		sID, parseErr := id.ParseServerID(lease.ServerID)
		if parseErr != nil {
			return nil, nil
		}
		srv = &cluster.Server{ID: sID}
	default:
		return nil, fmt.Errorf("stepflow/mongo: get leader server: %w", err)
	}
	until := lease.LeaderUntil.UTC()
	srv.IsLeader = true
	srv.LeaderUntil = &until
	return srv, nil
}

// lease returns the unexpired leadership lease, or nil.
func (s *Store) lease(ctx context.Context) (*leaderModel, error) {
	var m leaderModel
	err := s.col(colLeader).FindOne(ctx, bson.D{
		{Key: "_id", Value: leaderID},
		{Key: "leader_until", Value: bson.D{{Key: "$gt", Value: s.clock()}}},
	}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stepflow/mongo: get leader: %w", err)
	}
	return &m, nil
}

func decodeServers(ctx context.Context, cursor *mongod.Cursor) ([]*cluster.Server, error) {
	defer cursor.Close(ctx)

	var models []serverModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("stepflow/mongo: decode servers: %w", err)
	}
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
