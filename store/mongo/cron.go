package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/cron"
	"github.com/xraph/stepflow/id"
)

// RegisterCron persists a new cron entry. The unique name index rejects
// duplicates.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	if _, err := s.col(colCrons).InsertOne(ctx, toCronModel(entry)); err != nil {
		if isDuplicateKey(err) {
			return stepflow.ErrDuplicateCron
		}
		return fmt.Errorf("stepflow/mongo: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	var m cronModel
	err := s.col(colCrons).FindOne(ctx, bson.D{{Key: "_id", Value: entryID.String()}}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, stepflow.ErrCronNotFound
		}
		return nil, fmt.Errorf("stepflow/mongo: get cron: %w", err)
	}
	return fromCronModel(&m)
}

// ListCrons returns all cron entries, oldest first.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	cursor, err := s.col(colCrons).Find(ctx, bson.D{},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("stepflow/mongo: list crons: %w", err)
	}
	defer cursor.Close(ctx)

	var models []cronModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("stepflow/mongo: decode crons: %w", err)
	}
	entries := make([]*cron.Entry, 0, len(models))
	for i := range models {
		e, err := fromCronModel(&models[i])
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// UpdateCronLastRun records when a cron entry last fired.
func (s *Store) UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error {
	return s.updateCron(ctx, entryID.String(), bson.D{
		{Key: "last_run_at", Value: at},
	})
}

// UpdateCronEntry updates a cron entry (Enabled, NextRunAt, etc.).
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	m := toCronModel(entry)
	return s.updateCron(ctx, m.ID, bson.D{
		{Key: "schedule", Value: m.Schedule},
		{Key: "task_type", Value: m.TaskType},
		{Key: "group", Value: m.Group},
		{Key: "object", Value: m.Object},
		{Key: "last_run_at", Value: m.LastRunAt},
		{Key: "next_run_at", Value: m.NextRunAt},
		{Key: "enabled", Value: m.Enabled},
	})
}

func (s *Store) updateCron(ctx context.Context, cID string, set bson.D) error {
	set = append(set, bson.E{Key: "updated_at", Value: s.clock()})
	res, err := s.col(colCrons).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: cID}},
		bson.D{{Key: "$set", Value: set}},
	)
	if err != nil {
		return fmt.Errorf("stepflow/mongo: update cron: %w", err)
	}
	if res.MatchedCount == 0 {
		return stepflow.ErrCronNotFound
	}
	return nil
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	res, err := s.col(colCrons).DeleteOne(ctx, bson.D{{Key: "_id", Value: entryID.String()}})
	if err != nil {
		return fmt.Errorf("stepflow/mongo: delete cron: %w", err)
	}
	if res.DeletedCount == 0 {
		return stepflow.ErrCronNotFound
	}
	return nil
}
