package mongo

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/lock"
)

func expiry(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	at := now.Add(ttl)
	return &at
}

// AcquireLock takes name for holder if it is free or expired. The upsert
// only matches an expired record; a live one makes the insert collide on
// _id, which reports the lock as taken.
func (s *Store) AcquireLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := s.clock()
	_, err := s.col(colLocks).UpdateOne(ctx,
		bson.D{
			{Key: "_id", Value: name},
			{Key: "expires_at", Value: bson.D{{Key: "$lte", Value: now}}},
		},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "holder", Value: holder},
			{Key: "acquired_at", Value: now},
			{Key: "expires_at", Value: expiry(now, ttl)},
		}}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("stepflow/mongo: acquire lock: %w", err)
	}
	return true, nil
}

// ReleaseLock frees name if holder holds it.
func (s *Store) ReleaseLock(ctx context.Context, name, holder string) (bool, error) {
	filter := append(bson.D{
		{Key: "_id", Value: name},
		{Key: "holder", Value: holder},
	}, live("expires_at", s.clock())...)
	res, err := s.col(colLocks).DeleteOne(ctx, filter)
	if err != nil {
		return false, fmt.Errorf("stepflow/mongo: release lock: %w", err)
	}
	return res.DeletedCount == 1, nil
}

// RenewLock extends holder's lock on name.
func (s *Store) RenewLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := s.clock()
	filter := append(bson.D{
		{Key: "_id", Value: name},
		{Key: "holder", Value: holder},
	}, live("expires_at", now)...)
	res, err := s.col(colLocks).UpdateOne(ctx, filter,
		bson.D{{Key: "$set", Value: bson.D{{Key: "expires_at", Value: expiry(now, ttl)}}}},
	)
	if err != nil {
		return false, fmt.Errorf("stepflow/mongo: renew lock: %w", err)
	}
	return res.MatchedCount == 1, nil
}

// GetLock returns the live record for name.
func (s *Store) GetLock(ctx context.Context, name string) (*lock.Record, error) {
	filter := append(bson.D{{Key: "_id", Value: name}}, live("expires_at", s.clock())...)
	var m lockModel
	if err := s.col(colLocks).FindOne(ctx, filter).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, stepflow.ErrLockNotHeld
		}
		return nil, fmt.Errorf("stepflow/mongo: get lock: %w", err)
	}
	return fromLockModel(&m), nil
}

// ReleaseLocksByHolder frees every lock holder holds.
func (s *Store) ReleaseLocksByHolder(ctx context.Context, holder string) (int64, error) {
	res, err := s.col(colLocks).DeleteMany(ctx, bson.D{{Key: "holder", Value: holder}})
	if err != nil {
		return 0, fmt.Errorf("stepflow/mongo: release locks by holder: %w", err)
	}
	return res.DeletedCount, nil
}

// CountLocks counts live locks whose name starts with prefix.
func (s *Store) CountLocks(ctx context.Context, prefix string) (int64, error) {
	filter := append(bson.D{{Key: "_id", Value: bson.Regex{
		Pattern: "^" + regexp.QuoteMeta(prefix),
	}}}, live("expires_at", s.clock())...)
	n, err := s.col(colLocks).CountDocuments(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("stepflow/mongo: count locks: %w", err)
	}
	return n, nil
}

// liveLockNames reports which of names are currently held.
func (s *Store) liveLockNames(ctx context.Context, names []string, now time.Time) (map[string]bool, error) {
	held := make(map[string]bool)
	if len(names) == 0 {
		return held, nil
	}
	filter := append(bson.D{
		{Key: "_id", Value: bson.D{{Key: "$in", Value: names}}},
	}, live("expires_at", now)...)
	cursor, err := s.col(colLocks).Find(ctx, filter,
		options.Find().SetProjection(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("stepflow/mongo: find held locks: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var m struct {
			Name string `bson:"_id"`
		}
		if err := cursor.Decode(&m); err != nil {
			return nil, fmt.Errorf("stepflow/mongo: decode lock: %w", err)
		}
		held[m.Name] = true
	}
	return held, cursor.Err()
}
