package bunstore

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/signal"
)

// CreateCallback persists a callback. A partial unique index allows one
// system callback per type.
func (s *Store) CreateCallback(ctx context.Context, cb *signal.Callback) error {
	if _, err := s.db.NewInsert().Model(toCallbackModel(cb)).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return stepflow.ErrSignalAlreadyExists
		}
		return fmt.Errorf("stepflow/bun: create callback: %w", err)
	}
	return nil
}

// GetCallback retrieves a callback by token.
func (s *Store) GetCallback(ctx context.Context, token id.SignalID) (*signal.Callback, error) {
	return s.oneCallback(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("token = ?", token.String())
	})
}

// DeleteCallback removes a callback.
func (s *Store) DeleteCallback(ctx context.Context, token id.SignalID) error {
	res, err := s.db.NewDelete().Model((*callbackModel)(nil)).
		Where("token = ?", token.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stepflow/bun: delete callback: %w", err)
	}
	if affected(res) == 0 {
		return stepflow.ErrSignalNotFound
	}
	return nil
}

// ListCallbacksByTask returns all callbacks registered by a task.
func (s *Store) ListCallbacksByTask(ctx context.Context, taskID id.TaskID) ([]*signal.Callback, error) {
	var models []callbackModel
	err := s.db.NewSelect().Model(&models).
		Where("task_id = ?", taskID.String()).
		Order("token ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("stepflow/bun: list callbacks: %w", err)
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

// GetSystemCallback returns the system callback of a signal type.
func (s *Store) GetSystemCallback(ctx context.Context, signalType string) (*signal.Callback, error) {
	return s.oneCallback(ctx, func(q *bun.SelectQuery) *bun.SelectQuery {
		return q.Where("task_id IS NULL").Where("type = ?", signalType)
	})
}

func (s *Store) oneCallback(ctx context.Context, where func(*bun.SelectQuery) *bun.SelectQuery) (*signal.Callback, error) {
	m := new(callbackModel)
	if err := where(s.db.NewSelect().Model(m)).Limit(1).Scan(ctx); err != nil {
		if isNoRows(err) {
			return nil, stepflow.ErrSignalNotFound
		}
		return nil, fmt.Errorf("stepflow/bun: get callback: %w", err)
	}
	return fromCallbackModel(m)
}
