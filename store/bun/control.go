package bunstore

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"github.com/xraph/stepflow/control"
)

const flagsRow = 1

// GetFlags returns the current flags; all off when never set.
func (s *Store) GetFlags(ctx context.Context) (*control.Flags, error) {
	var base *flagsModel
	m := new(flagsModel)
	err := s.db.NewSelect().Model(m).Where("id = ?", flagsRow).Scan(ctx)
	switch {
	case err == nil:
		base = m
	case !isNoRows(err):
		return nil, fmt.Errorf("stepflow/bun: get flags: %w", err)
	}

	var groups []groupPauseModel
	if err := s.db.NewSelect().Model(&groups).Scan(ctx); err != nil {
		return nil, fmt.Errorf("stepflow/bun: list group pauses: %w", err)
	}
	return flagsFrom(base, groups), nil
}

// SetGlobalPause sets the cluster-wide pause level.
func (s *Store) SetGlobalPause(ctx context.Context, level control.Level) error {
	return s.upsertFlags(ctx, "global", &flagsModel{Global: string(level)})
}

// SetMaintenance switches maintenance mode.
func (s *Store) SetMaintenance(ctx context.Context, on bool) error {
	return s.upsertFlags(ctx, "maintenance", &flagsModel{Global: string(control.PauseOff), Maintenance: on})
}

// SetGroupPause sets the pause level of one group. PauseOff clears it.
func (s *Store) SetGroupPause(ctx context.Context, group string, level control.Level) error {
	var err error
	if level == control.PauseOff {
		_, err = s.db.NewDelete().Model((*groupPauseModel)(nil)).
			Where("group_name = ?", group).
			Exec(ctx)
	} else {
		_, err = s.db.NewInsert().Model(&groupPauseModel{Group: group, Level: string(level)}).
			On("CONFLICT (group_name) DO UPDATE").
			Set("level = EXCLUDED.level").
			Exec(ctx)
	}
	if err != nil {
		return fmt.Errorf("stepflow/bun: set group pause: %w", err)
	}
	return s.upsertFlags(ctx, "", &flagsModel{Global: string(control.PauseOff)})
}

// upsertFlags writes column of m into the singleton row, creating it with
// m's values when absent. The row is always stamped.
func (s *Store) upsertFlags(ctx context.Context, column string, m *flagsModel) error {
	m.ID = flagsRow
	m.UpdatedAt = s.clock()
	q := s.db.NewInsert().Model(m).
		On("CONFLICT (id) DO UPDATE").
		Set("updated_at = EXCLUDED.updated_at")
	if column != "" {
		q = q.Set("? = EXCLUDED.?", bun.Ident(column), bun.Ident(column))
	}
	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("stepflow/bun: update flags: %w", err)
	}
	return nil
}
