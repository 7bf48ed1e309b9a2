package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/stepflow/control"
)

// GetFlags returns the current flags; all off when never set.
func (s *Store) GetFlags(ctx context.Context) (*control.Flags, error) {
	f := &control.Flags{Global: control.PauseOff}

	var (
		global    string
		updatedAt *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT global, maintenance, updated_at FROM stepflow_flags WHERE id = 1`,
	).Scan(&global, &f.Maintenance, &updatedAt)
	switch {
	case isNoRows(err):
	case err != nil:
		return nil, fmt.Errorf("stepflow/postgres: get flags: %w", err)
	default:
		f.Global = control.Level(global)
		f.UpdatedAt = fromNull(updatedAt)
	}

	rows, err := s.pool.Query(ctx, `SELECT group_name, level FROM stepflow_group_pauses`)
	if err != nil {
		return nil, fmt.Errorf("stepflow/postgres: get group pauses: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var group, level string
		if err := rows.Scan(&group, &level); err != nil {
			return nil, fmt.Errorf("stepflow/postgres: scan group pause: %w", err)
		}
		if f.Groups == nil {
			f.Groups = make(map[string]control.Level)
		}
		f.Groups[group] = control.Level(level)
	}
	return f, rows.Err()
}

// SetGlobalPause sets the cluster-wide pause level.
func (s *Store) SetGlobalPause(ctx context.Context, level control.Level) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stepflow_flags (id, global, updated_at) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET global = EXCLUDED.global, updated_at = EXCLUDED.updated_at`,
		string(level), s.clock(),
	)
	if err != nil {
		return fmt.Errorf("stepflow/postgres: set global pause: %w", err)
	}
	return nil
}

// SetGroupPause sets the pause level of one group. PauseOff clears it.
func (s *Store) SetGroupPause(ctx context.Context, group string, level control.Level) error {
	var err error
	if level == control.PauseOff {
		_, err = s.pool.Exec(ctx, `DELETE FROM stepflow_group_pauses WHERE group_name = $1`, group)
	} else {
		_, err = s.pool.Exec(ctx, `
			INSERT INTO stepflow_group_pauses (group_name, level) VALUES ($1, $2)
			ON CONFLICT (group_name) DO UPDATE SET level = EXCLUDED.level`,
			group, string(level),
		)
	}
	if err != nil {
		return fmt.Errorf("stepflow/postgres: set group pause: %w", err)
	}
	return nil
}

// SetMaintenance switches maintenance mode.
func (s *Store) SetMaintenance(ctx context.Context, on bool) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO stepflow_flags (id, maintenance, updated_at) VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET maintenance = EXCLUDED.maintenance, updated_at = EXCLUDED.updated_at`,
		on, s.clock(),
	)
	if err != nil {
		return fmt.Errorf("stepflow/postgres: set maintenance: %w", err)
	}
	return nil
}
