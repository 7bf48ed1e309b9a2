package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/lock"
	"github.com/xraph/stepflow/task"
)

const taskColumns = `id, type, state, phase, priority, task_group, parent_id, children,
	object, scratch, counters, capabilities, skip_entry, wait_until, parked_at,
	woken_at, wake_seen, terminate_requested, last_outcome, steps, exit_status,
	exit_code, exit_message, started_at, finished_at, created_at, updated_at`

func childIDs(children []id.TaskID) []string {
	out := make([]string, len(children))
	for i, c := range children {
		out[i] = c.String()
	}
	return out
}

func parentID(t *task.Task) *string {
	if t.ParentID.IsNil() {
		return nil
	}
	s := t.ParentID.String()
	return &s
}

// CreateTask persists a new task.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO stepflow_tasks (`+taskColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27)`,
		t.ID.String(), t.Type, t.State, string(t.Phase), t.Priority, t.Group,
		parentID(t), childIDs(t.Children), t.Object, t.Scratch, t.Counters,
		nonNil(t.Capabilities), t.SkipEntry, nullTime(t.WaitUntil), nullTime(t.ParkedAt),
		nullTime(t.WokenAt), nullTime(t.WakeSeen), t.TerminateRequested, t.LastOutcome,
		t.Steps, string(t.ExitStatus), t.ExitCode, t.ExitMessage, t.StartedAt,
		t.FinishedAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return stepflow.ErrTaskAlreadyExists
		}
		return fmt.Errorf("stepflow/postgres: create task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM stepflow_tasks WHERE id = $1`,
		taskID.String(),
	)
	t, err := scanTask(row)
	if err != nil {
		if isNoRows(err) {
			return nil, stepflow.ErrTaskNotFound
		}
		return nil, fmt.Errorf("stepflow/postgres: get task: %w", err)
	}
	return t, nil
}

// UpdateTask persists changes to an existing task. woken_at and
// terminate_requested are not in the SET list.
func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stepflow_tasks SET
			state = $2, phase = $3, priority = $4, task_group = $5, children = $6,
			object = $7, scratch = $8, counters = $9, capabilities = $10,
			skip_entry = $11, wait_until = $12, parked_at = $13, last_outcome = $14,
			steps = $15, exit_status = $16, exit_code = $17, exit_message = $18,
			started_at = $19, finished_at = $20, updated_at = $21, wake_seen = $22
		WHERE id = $1`,
		t.ID.String(), t.State, string(t.Phase), t.Priority, t.Group,
		childIDs(t.Children), t.Object, t.Scratch, t.Counters, nonNil(t.Capabilities),
		t.SkipEntry, nullTime(t.WaitUntil), nullTime(t.ParkedAt), t.LastOutcome,
		t.Steps, string(t.ExitStatus), t.ExitCode, t.ExitMessage,
		t.StartedAt, t.FinishedAt, s.clock(), nullTime(t.WakeSeen),
	)
	if err != nil {
		return fmt.Errorf("stepflow/postgres: update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return stepflow.ErrTaskNotFound
	}
	return nil
}

// DeleteTask removes a task by ID.
func (s *Store) DeleteTask(ctx context.Context, taskID id.TaskID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM stepflow_tasks WHERE id = $1`, taskID.String())
	if err != nil {
		return fmt.Errorf("stepflow/postgres: delete task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return stepflow.ErrTaskNotFound
	}
	return nil
}

// listWhere builds the WHERE clause for opts.
func listWhere(opts task.ListOpts) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if opts.Type != "" {
		add("type = $%d", opts.Type)
	}
	if opts.Group != "" {
		add("task_group = $%d", opts.Group)
	}
	if opts.Phase != "" {
		add("phase = $%d", string(opts.Phase))
	}
	if opts.ExitStatus != "" {
		add("exit_status = $%d", string(opts.ExitStatus))
	}
	if !opts.ParentID.IsNil() {
		add("parent_id = $%d", opts.ParentID.String())
	}
	if !opts.CreatedAfter.IsZero() {
		add("created_at > $%d", opts.CreatedAfter)
	}
	if !opts.CreatedBefore.IsZero() {
		add("created_at < $%d", opts.CreatedBefore)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListTasks returns tasks matching opts, oldest first.
func (s *Store) ListTasks(ctx context.Context, opts task.ListOpts) ([]*task.Task, error) {
	where, args := listWhere(opts)
	query := `SELECT ` + taskColumns + ` FROM stepflow_tasks` + where + ` ORDER BY created_at ASC, id ASC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stepflow/postgres: list tasks: %w", err)
	}
	return collectTasks(rows)
}

// CountTasks returns the number of tasks matching opts.
func (s *Store) CountTasks(ctx context.Context, opts task.ListOpts) (int64, error) {
	where, args := listWhere(opts)
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stepflow_tasks`+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("stepflow/postgres: count tasks: %w", err)
	}
	return n, nil
}

// ListClaimable returns claim candidates ordered by priority then age.
// A NULL limit is LIMIT ALL.
func (s *Store) ListClaimable(ctx context.Context, opts task.ClaimOpts) ([]*task.Task, error) {
	now := opts.Now
	if now.IsZero() {
		now = s.clock()
	}
	var limit *int
	if opts.Limit > 0 {
		limit = &opts.Limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM stepflow_tasks t
		WHERE phase <> 'finished'
			AND (wait_until IS NULL OR wait_until <= $1
				OR COALESCE(woken_at, '-infinity') > COALESCE(wake_seen, '-infinity'))
			AND capabilities <@ $2::text[]
			AND NOT (task_group = ANY($3::text[]))
			AND NOT (phase = 'before-start' AND ($4 OR task_group = ANY($5::text[])))
			AND NOT EXISTS (
				SELECT 1 FROM stepflow_locks l
				WHERE l.name = $6::text || t.id
					AND (l.expires_at IS NULL OR l.expires_at > $7))
		ORDER BY priority DESC, created_at ASC, id ASC
		LIMIT $8`,
		now, nonNil(opts.Capabilities), nonNil(opts.ExcludeGroups),
		opts.NoNew, nonNil(opts.NoNewGroups), lock.TaskLockPrefix, s.clock(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("stepflow/postgres: list claimable: %w", err)
	}
	return collectTasks(rows)
}

// WakeTask records a wake-up. Waking a finished task is a no-op.
func (s *Store) WakeTask(ctx context.Context, taskID id.TaskID, at time.Time) error {
	var phase string
	err := s.pool.QueryRow(ctx, `
		WITH target AS (SELECT id, phase FROM stepflow_tasks WHERE id = $1),
		woken AS (
			UPDATE stepflow_tasks SET woken_at = $2
			WHERE id = $1 AND phase <> 'finished'
				AND (woken_at IS NULL OR woken_at < $2)
		)
		SELECT phase FROM target`,
		taskID.String(), at,
	).Scan(&phase)
	if err != nil {
		if isNoRows(err) {
			return stepflow.ErrTaskNotFound
		}
		return fmt.Errorf("stepflow/postgres: wake task: %w", err)
	}
	return nil
}

// RequestTermination flags the task for termination and wakes it.
func (s *Store) RequestTermination(ctx context.Context, taskID id.TaskID, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stepflow_tasks SET
			terminate_requested = TRUE,
			woken_at = GREATEST(COALESCE(woken_at, $2), $2)
		WHERE id = $1 AND phase <> 'finished'`,
		taskID.String(), at,
	)
	if err != nil {
		return fmt.Errorf("stepflow/postgres: request termination: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM stepflow_tasks WHERE id = $1)`, taskID.String(),
	).Scan(&exists); err != nil {
		return fmt.Errorf("stepflow/postgres: request termination: %w", err)
	}
	if !exists {
		return stepflow.ErrTaskNotFound
	}
	return stepflow.ErrTaskFinished
}

func collectTasks(rows pgx.Rows) ([]*task.Task, error) {
	defer rows.Close()

	tasks := make([]*task.Task, 0)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("stepflow/postgres: scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stepflow/postgres: iterate tasks: %w", err)
	}
	return tasks, nil
}

func scanTask(row pgx.Row) (*task.Task, error) {
	var (
		t                            task.Task
		taskID, phase, exitStatus    string
		parent                       *string
		children                     []string
		waitUntil, parkedAt, wokenAt *time.Time
		wakeSeen                     *time.Time
		startedAt, finishedAt        *time.Time
	)
	err := row.Scan(
		&taskID, &t.Type, &t.State, &phase, &t.Priority, &t.Group, &parent, &children,
		&t.Object, &t.Scratch, &t.Counters, &t.Capabilities, &t.SkipEntry,
		&waitUntil, &parkedAt, &wokenAt, &wakeSeen, &t.TerminateRequested, &t.LastOutcome,
		&t.Steps, &exitStatus, &t.ExitCode, &t.ExitMessage, &startedAt, &finishedAt,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if t.ID, err = id.ParseTaskID(taskID); err != nil {
		return nil, err
	}
	if parent != nil {
		if t.ParentID, err = id.ParseTaskID(*parent); err != nil {
			return nil, err
		}
	}
	for _, c := range children {
		cID, err := id.ParseTaskID(c)
		if err != nil {
			return nil, err
		}
		t.Children = append(t.Children, cID)
	}
	t.Phase = task.Phase(phase)
	t.ExitStatus = task.ExitStatus(exitStatus)
	t.WaitUntil = fromNull(waitUntil)
	t.ParkedAt = fromNull(parkedAt)
	t.WokenAt = fromNull(wokenAt)
	t.WakeSeen = fromNull(wakeSeen)
	t.StartedAt = utcPtr(startedAt)
	t.FinishedAt = utcPtr(finishedAt)
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()
	return &t, nil
}
