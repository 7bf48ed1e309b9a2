package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/signal"
)

// CreateCallback persists a callback. A partial unique index keeps one
// system callback per type.
func (s *Store) CreateCallback(ctx context.Context, cb *signal.Callback) error {
	var taskID *string
	if !cb.System() {
		v := cb.TaskID.String()
		taskID = &v
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stepflow_signals (token, task_id, type, created_at)
		VALUES ($1, $2, $3, $4)`,
		cb.Token.String(), taskID, cb.Type, cb.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return stepflow.ErrSignalAlreadyExists
		}
		return fmt.Errorf("stepflow/postgres: create callback: %w", err)
	}
	return nil
}

// GetCallback retrieves a callback by token.
func (s *Store) GetCallback(ctx context.Context, token id.SignalID) (*signal.Callback, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT token, task_id, type, created_at FROM stepflow_signals WHERE token = $1`,
		token.String(),
	)
	return s.oneCallback(row)
}

// DeleteCallback removes a callback.
func (s *Store) DeleteCallback(ctx context.Context, token id.SignalID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM stepflow_signals WHERE token = $1`, token.String())
	if err != nil {
		return fmt.Errorf("stepflow/postgres: delete callback: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return stepflow.ErrSignalNotFound
	}
	return nil
}

// ListCallbacksByTask returns all callbacks registered by a task.
func (s *Store) ListCallbacksByTask(ctx context.Context, taskID id.TaskID) ([]*signal.Callback, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT token, task_id, type, created_at FROM stepflow_signals
		WHERE task_id = $1 ORDER BY token`,
		taskID.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("stepflow/postgres: list callbacks: %w", err)
	}
	defer rows.Close()

	result := make([]*signal.Callback, 0)
	for rows.Next() {
		cb, err := scanCallback(rows)
		if err != nil {
			return nil, fmt.Errorf("stepflow/postgres: scan callback: %w", err)
		}
		result = append(result, cb)
	}
	return result, rows.Err()
}

// GetSystemCallback returns the system callback of a signal type.
func (s *Store) GetSystemCallback(ctx context.Context, signalType string) (*signal.Callback, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT token, task_id, type, created_at FROM stepflow_signals
		WHERE task_id IS NULL AND type = $1`,
		signalType,
	)
	return s.oneCallback(row)
}

func (s *Store) oneCallback(row pgx.Row) (*signal.Callback, error) {
	cb, err := scanCallback(row)
	if err != nil {
		if isNoRows(err) {
			return nil, stepflow.ErrSignalNotFound
		}
		return nil, fmt.Errorf("stepflow/postgres: get callback: %w", err)
	}
	return cb, nil
}

func scanCallback(row pgx.Row) (*signal.Callback, error) {
	var (
		cb     signal.Callback
		token  string
		taskID *string
	)
	if err := row.Scan(&token, &taskID, &cb.Type, &cb.CreatedAt); err != nil {
		return nil, err
	}
	var err error
	if cb.Token, err = id.ParseSignalID(token); err != nil {
		return nil, err
	}
	if taskID != nil {
		if cb.TaskID, err = id.ParseTaskID(*taskID); err != nil {
			return nil, err
		}
	}
	cb.CreatedAt = cb.CreatedAt.UTC()
	return &cb, nil
}
