package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/cron"
	"github.com/xraph/stepflow/id"
)

const cronColumns = `id, name, schedule, task_type, task_group, object,
	last_run_at, next_run_at, enabled, created_at, updated_at`

// RegisterCron persists a new cron entry.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO stepflow_crons (`+cronColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID.String(), entry.Name, entry.Schedule, entry.TaskType, entry.Group,
		entry.Object, entry.LastRunAt, entry.NextRunAt, entry.Enabled,
		entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return stepflow.ErrDuplicateCron
		}
		return fmt.Errorf("stepflow/postgres: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	e, err := scanCron(s.pool.QueryRow(ctx,
		`SELECT `+cronColumns+` FROM stepflow_crons WHERE id = $1`, entryID.String(),
	))
	if err != nil {
		if isNoRows(err) {
			return nil, stepflow.ErrCronNotFound
		}
		return nil, fmt.Errorf("stepflow/postgres: get cron: %w", err)
	}
	return e, nil
}

// ListCrons returns all cron entries, oldest first.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+cronColumns+` FROM stepflow_crons ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("stepflow/postgres: list crons: %w", err)
	}
	defer rows.Close()

	entries := make([]*cron.Entry, 0)
	for rows.Next() {
		e, err := scanCron(rows)
		if err != nil {
			return nil, fmt.Errorf("stepflow/postgres: scan cron: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// UpdateCronLastRun records when a cron entry last fired.
func (s *Store) UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE stepflow_crons SET last_run_at = $2, updated_at = $3 WHERE id = $1`,
		entryID.String(), at, s.clock(),
	)
	if err != nil {
		return fmt.Errorf("stepflow/postgres: update cron last run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return stepflow.ErrCronNotFound
	}
	return nil
}

// UpdateCronEntry updates a cron entry (Enabled, NextRunAt, etc.).
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stepflow_crons SET
			schedule = $2, task_type = $3, task_group = $4, object = $5,
			last_run_at = $6, next_run_at = $7, enabled = $8, updated_at = $9
		WHERE id = $1`,
		entry.ID.String(), entry.Schedule, entry.TaskType, entry.Group, entry.Object,
		entry.LastRunAt, entry.NextRunAt, entry.Enabled, s.clock(),
	)
	if err != nil {
		return fmt.Errorf("stepflow/postgres: update cron: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return stepflow.ErrCronNotFound
	}
	return nil
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM stepflow_crons WHERE id = $1`, entryID.String())
	if err != nil {
		return fmt.Errorf("stepflow/postgres: delete cron: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return stepflow.ErrCronNotFound
	}
	return nil
}

func scanCron(row pgx.Row) (*cron.Entry, error) {
	var (
		e   cron.Entry
		eID string
	)
	err := row.Scan(&eID, &e.Name, &e.Schedule, &e.TaskType, &e.Group, &e.Object,
		&e.LastRunAt, &e.NextRunAt, &e.Enabled, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if e.ID, err = id.ParseCronID(eID); err != nil {
		return nil, err
	}
	e.LastRunAt = utcPtr(e.LastRunAt)
	e.NextRunAt = utcPtr(e.NextRunAt)
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}
