package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/signal"
)

// CreateCallback persists a callback. The partial unique index on type
// rejects a second system callback of the same type.
func (s *Store) CreateCallback(ctx context.Context, cb *signal.Callback) error {
	if _, err := s.col(colSignals).InsertOne(ctx, toCallbackModel(cb)); err != nil {
		if isDuplicateKey(err) {
			return stepflow.ErrSignalAlreadyExists
		}
		return fmt.Errorf("stepflow/mongo: create callback: %w", err)
	}
	return nil
}

// GetCallback retrieves a callback by token.
func (s *Store) GetCallback(ctx context.Context, token id.SignalID) (*signal.Callback, error) {
	return s.oneCallback(ctx, bson.D{{Key: "_id", Value: token.String()}})
}

// DeleteCallback removes a callback. Of two concurrent deletes only one
// sees a deleted document.
func (s *Store) DeleteCallback(ctx context.Context, token id.SignalID) error {
	res, err := s.col(colSignals).DeleteOne(ctx, bson.D{{Key: "_id", Value: token.String()}})
	if err != nil {
		return fmt.Errorf("stepflow/mongo: delete callback: %w", err)
	}
	if res.DeletedCount == 0 {
		return stepflow.ErrSignalNotFound
	}
	return nil
}

// ListCallbacksByTask returns all callbacks registered by a task.
func (s *Store) ListCallbacksByTask(ctx context.Context, taskID id.TaskID) ([]*signal.Callback, error) {
	cursor, err := s.col(colSignals).Find(ctx,
		bson.D{{Key: "task_id", Value: taskID.String()}},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("stepflow/mongo: list callbacks: %w", err)
	}
	return decodeCallbacks(ctx, cursor)
}

// GetSystemCallback returns the system callback of a signal type.
func (s *Store) GetSystemCallback(ctx context.Context, signalType string) (*signal.Callback, error) {
	return s.oneCallback(ctx, bson.D{
		{Key: "task_id", Value: ""},
		{Key: "type", Value: signalType},
	})
}

func (s *Store) oneCallback(ctx context.Context, filter bson.D) (*signal.Callback, error) {
	var m callbackModel
	if err := s.col(colSignals).FindOne(ctx, filter).Decode(&m); err != nil {
		if isNoDocuments(err) {
			return nil, stepflow.ErrSignalNotFound
		}
		return nil, fmt.Errorf("stepflow/mongo: get callback: %w", err)
	}
	return fromCallbackModel(&m)
}

func decodeCallbacks(ctx context.Context, cursor *mongod.Cursor) ([]*signal.Callback, error) {
	defer cursor.Close(ctx)

	var models []callbackModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("stepflow/mongo: decode callbacks: %w", err)
	}
	callbacks := make([]*signal.Callback, 0, len(models))
	for i := range models {
		cb, err := fromCallbackModel(&models[i])
		if err != nil {
			return nil, err
		}
		callbacks = append(callbacks, cb)
	}
	return callbacks, nil
}
