package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/stepflow/control"
)

// GetFlags returns the current flags; all off when never set.
func (s *Store) GetFlags(ctx context.Context) (*control.Flags, error) {
	var (
		m    flagsModel
		base *flagsModel
	)
	err := s.col(colFlags).FindOne(ctx, bson.D{{Key: "_id", Value: flagsID}}).Decode(&m)
	switch {
	case err == nil:
		base = &m
	case !isNoDocuments(err):
		return nil, fmt.Errorf("stepflow/mongo: get flags: %w", err)
	}

	cursor, err := s.col(colGroups).Find(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("stepflow/mongo: list group pauses: %w", err)
	}
	defer cursor.Close(ctx)

	var groups []groupPauseModel
	if err := cursor.All(ctx, &groups); err != nil {
		return nil, fmt.Errorf("stepflow/mongo: decode group pauses: %w", err)
	}
	return toFlags(base, groups), nil
}

// SetGlobalPause sets the cluster-wide pause level.
func (s *Store) SetGlobalPause(ctx context.Context, level control.Level) error {
	return s.setFlag(ctx, "global", string(level))
}

// SetGroupPause sets the pause level of one group. PauseOff clears it.
func (s *Store) SetGroupPause(ctx context.Context, group string, level control.Level) error {
	col := s.col(colGroups)
	filter := bson.D{{Key: "_id", Value: group}}
	if level == control.PauseOff {
		if _, err := col.DeleteOne(ctx, filter); err != nil {
			return fmt.Errorf("stepflow/mongo: clear group pause: %w", err)
		}
	} else {
		_, err := col.UpdateOne(ctx, filter,
			bson.D{{Key: "$set", Value: bson.D{{Key: "level", Value: string(level)}}}},
			options.UpdateOne().SetUpsert(true),
		)
		if err != nil {
			return fmt.Errorf("stepflow/mongo: set group pause: %w", err)
		}
	}
	return s.setFlag(ctx, "updated_at", s.clock())
}

// SetMaintenance switches maintenance mode.
func (s *Store) SetMaintenance(ctx context.Context, on bool) error {
	return s.setFlag(ctx, "maintenance", on)
}

// setFlag upserts one field of the flags document and stamps it.
func (s *Store) setFlag(ctx context.Context, field string, value any) error {
	set := bson.D{{Key: field, Value: value}}
	if field != "updated_at" {
		set = append(set, bson.E{Key: "updated_at", Value: s.clock()})
	}
	_, err := s.col(colFlags).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: flagsID}},
		bson.D{{Key: "$set", Value: set}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("stepflow/mongo: set %s: %w", field, err)
	}
	return nil
}
