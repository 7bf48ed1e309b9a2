package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/cron"
	"github.com/xraph/stepflow/id"
)

// RegisterCron persists a new cron entry. Names are unique.
func (s *Store) RegisterCron(ctx context.Context, entry *cron.Entry) error {
	doc, err := encodeDoc(entry)
	if err != nil {
		return err
	}
	eID := entry.ID.String()
	n, err := registerCronScript.Run(ctx, s.client,
		[]string{s.keys.cron(eID), s.keys.cronNames(), s.keys.crons()},
		doc, entry.Name, eID, score(entry.CreatedAt),
	).Int()
	if err != nil {
		return fmt.Errorf("stepflow/redis: register cron: %w", err)
	}
	if n == 0 {
		return stepflow.ErrDuplicateCron
	}
	return nil
}

// GetCron retrieves a cron entry by ID.
func (s *Store) GetCron(ctx context.Context, entryID id.CronID) (*cron.Entry, error) {
	return s.getCron(ctx, entryID.String())
}

func (s *Store) getCron(ctx context.Context, eID string) (*cron.Entry, error) {
	var e cron.Entry
	found, err := s.getDoc(ctx, s.keys.cron(eID), &e)
	if err != nil {
		return nil, fmt.Errorf("stepflow/redis: get cron: %w", err)
	}
	if !found {
		return nil, stepflow.ErrCronNotFound
	}
	return &e, nil
}

// ListCrons returns all cron entries, oldest first.
func (s *Store) ListCrons(ctx context.Context) ([]*cron.Entry, error) {
	eIDs, err := s.client.ZRange(ctx, s.keys.crons(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("stepflow/redis: list crons: %w", err)
	}
	entries := make([]*cron.Entry, 0, len(eIDs))
	for _, eID := range eIDs {
		e, err := s.getCron(ctx, eID)
		if err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// UpdateCronLastRun records when a cron entry last fired.
func (s *Store) UpdateCronLastRun(ctx context.Context, entryID id.CronID, at time.Time) error {
	e, err := s.GetCron(ctx, entryID)
	if err != nil {
		return err
	}
	e.LastRunAt = &at
	return s.putCron(ctx, e)
}

// UpdateCronEntry updates a cron entry (Enabled, NextRunAt, etc.).
func (s *Store) UpdateCronEntry(ctx context.Context, entry *cron.Entry) error {
	n, err := s.client.Exists(ctx, s.keys.cron(entry.ID.String())).Result()
	if err != nil {
		return fmt.Errorf("stepflow/redis: update cron exists: %w", err)
	}
	if n == 0 {
		return stepflow.ErrCronNotFound
	}
	cp := *entry
	return s.putCron(ctx, &cp)
}

func (s *Store) putCron(ctx context.Context, e *cron.Entry) error {
	e.UpdatedAt = s.clock()
	doc, err := encodeDoc(e)
	if err != nil {
		return err
	}
	if err := s.client.HSet(ctx, s.keys.cron(e.ID.String()), fieldDoc, doc).Err(); err != nil {
		return fmt.Errorf("stepflow/redis: write cron: %w", err)
	}
	return nil
}

// DeleteCron removes a cron entry by ID.
func (s *Store) DeleteCron(ctx context.Context, entryID id.CronID) error {
	e, err := s.GetCron(ctx, entryID)
	if err != nil {
		return err
	}
	eID := entryID.String()
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.keys.cron(eID))
	pipe.ZRem(ctx, s.keys.crons(), eID)
	pipe.HDel(ctx, s.keys.cronNames(), e.Name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("stepflow/redis: delete cron: %w", err)
	}
	return nil
}
