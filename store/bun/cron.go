package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/cron"
	"github.com/xraph/stepflow/id"
)

// RegisterCron persists a new cron entry. The unique name column rejects
// duplicates.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	if _, err := s.db.NewInsert().Model(toCronModel(entry)).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return stepflow.ErrDuplicateCron
		}
		return fmt.Errorf("stepflow/bun: register cron: %w", err)
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	m := new(cronModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", entryID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, stepflow.ErrCronNotFound
		}
		return nil, fmt.Errorf("stepflow/bun: get cron: %w", err)
	}
	return fromCronModel(m)
}

// ListCrons returns all cron entries, oldest first.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	var models []cronModel
	if err := s.db.NewSelect().Model(&models).Order("created_at ASC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("stepflow/bun: list crons: %w", err)
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
	res, err := s.db.NewUpdate().Model((*cronModel)(nil)).
		Set("last_run_at = ?", at).
		Set("updated_at = ?", s.clock()).
		Where("id = ?", entryID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stepflow/bun: update cron last run: %w", err)
	}
	if affected(res) == 0 {
		return stepflow.ErrCronNotFound
	}
	return nil
}

// UpdateCronEntry updates a cron entry (Enabled, NextRunAt, etc.).
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	m := toCronModel(entry)
	m.UpdatedAt = s.clock()
	res, err := s.db.NewUpdate().Model(m).
		ExcludeColumn("name", "created_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stepflow/bun: update cron: %w", err)
	}
	if affected(res) == 0 {
		return stepflow.ErrCronNotFound
	}
	return nil
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	res, err := s.db.NewDelete().Model((*cronModel)(nil)).
		Where("id = ?", entryID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stepflow/bun: delete cron: %w", err)
	}
	if affected(res) == 0 {
		return stepflow.ErrCronNotFound
	}
	return nil
}
