package bunstore

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/lock"
	"github.com/xraph/stepflow/task"
)

// CreateTask persists a new task.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	if _, err := s.db.NewInsert().Model(toTaskModel(t)).Exec(ctx); err != nil {
		if isDuplicateKey(err) {
			return stepflow.ErrTaskAlreadyExists
		}
		return fmt.Errorf("stepflow/bun: create task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	m := new(taskModel)
	err := s.db.NewSelect().Model(m).
		Where("id = ?", taskID.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, stepflow.ErrTaskNotFound
		}
		return nil, fmt.Errorf("stepflow/bun: get task: %w", err)
	}
	return fromTaskModel(m)
}

// UpdateTask persists changes to an existing task. The wake-up time and
// termination request are excluded from the column list.
func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	m := toTaskModel(t)
	m.UpdatedAt = s.clock()
	res, err := s.db.NewUpdate().Model(m).
		ExcludeColumn("woken_at", "terminate_requested", "created_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stepflow/bun: update task: %w", err)
	}
	if affected(res) == 0 {
		return stepflow.ErrTaskNotFound
	}
	return nil
}

// DeleteTask removes a task by ID.
func (s *Store) DeleteTask(ctx context.Context, taskID id.TaskID) error {
	res, err := s.db.NewDelete().
		TableExpr("stepflow_tasks").
		Where("id = ?", taskID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stepflow/bun: delete task: %w", err)
	}
	if affected(res) == 0 {
		return stepflow.ErrTaskNotFound
	}
	return nil
}

// applyListOpts adds the filters of opts to q.
func applyListOpts(q *bun.SelectQuery, opts task.ListOpts) *bun.SelectQuery {
	if opts.Type != "" {
		q = q.Where("type = ?", opts.Type)
	}
	if opts.Group != "" {
		q = q.Where("task_group = ?", opts.Group)
	}
	if opts.Phase != "" {
		q = q.Where("phase = ?", string(opts.Phase))
	}
	if opts.ExitStatus != "" {
		q = q.Where("exit_status = ?", string(opts.ExitStatus))
	}
	if !opts.ParentID.IsNil() {
		q = q.Where("parent_id = ?", opts.ParentID.String())
	}
	if !opts.CreatedAfter.IsZero() {
		q = q.Where("created_at > ?", opts.CreatedAfter)
	}
	if !opts.CreatedBefore.IsZero() {
		q = q.Where("created_at < ?", opts.CreatedBefore)
	}
	return q
}

// ListTasks returns tasks matching opts, oldest first.
func (s *Store) ListTasks(ctx context.Context, opts task.ListOpts) ([]*task.Task, error) {
	var models []taskModel
	q := applyListOpts(s.db.NewSelect().Model(&models), opts).
		Order("created_at ASC", "id ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("stepflow/bun: list tasks: %w", err)
	}
	return fromTaskModels(models)
}

// CountTasks returns the number of tasks matching opts.
func (s *Store) CountTasks(ctx context.Context, opts task.ListOpts) (int64, error) {
	n, err := applyListOpts(s.db.NewSelect().Model((*taskModel)(nil)), opts).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("stepflow/bun: count tasks: %w", err)
	}
	return int64(n), nil
}

// ListClaimable returns claim candidates ordered by priority then age,
// skipping tasks whose step lock is live.
func (s *Store) ListClaimable(ctx context.Context, opts task.ClaimOpts) ([]*task.Task, error) {
	now := opts.Now
	if now.IsZero() {
		now = s.clock()
	}
	var models []taskModel
	q := s.db.NewSelect().Model(&models).
		Where("t.phase <> ?", string(task.PhaseFinished)).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("t.wait_until IS NULL").
				WhereOr("t.wait_until <= ?", now).
				WhereOr("COALESCE(t.woken_at, '-infinity') > COALESCE(t.wake_seen, '-infinity')")
		}).
		Where("t.capabilities <@ ?::text[]", pgdialect.Array(nonNil(opts.Capabilities))).
		Where("NOT (t.task_group = ANY(?::text[]))", pgdialect.Array(nonNil(opts.ExcludeGroups))).
		Where("NOT (t.phase = ? AND (? OR t.task_group = ANY(?::text[])))",
			string(task.PhaseBeforeStart), opts.NoNew, pgdialect.Array(nonNil(opts.NoNewGroups))).
		Where(`NOT EXISTS (
			SELECT 1 FROM stepflow_locks l
			WHERE l.name = ? || t.id AND (l.expires_at IS NULL OR l.expires_at > ?))`,
			lock.TaskLockPrefix, s.clock()).
		Order("t.priority DESC", "t.created_at ASC", "t.id ASC")
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("stepflow/bun: list claimable: %w", err)
	}
	return fromTaskModels(models)
}

// WakeTask records a wake-up. Waking a finished task is a no-op.
func (s *Store) WakeTask(ctx context.Context, taskID id.TaskID, at time.Time) error {
	tID := taskID.String()
	res, err := s.db.NewUpdate().Model((*taskModel)(nil)).
		Set("woken_at = ?", at).
		Where("id = ?", tID).
		Where("phase <> ?", string(task.PhaseFinished)).
		Where("(woken_at IS NULL OR woken_at < ?)", at).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stepflow/bun: wake task: %w", err)
	}
	if affected(res) == 1 {
		return nil
	}
	return s.taskExists(ctx, tID)
}

// RequestTermination flags the task for termination and wakes it.
func (s *Store) RequestTermination(ctx context.Context, taskID id.TaskID, at time.Time) error {
	tID := taskID.String()
	res, err := s.db.NewUpdate().Model((*taskModel)(nil)).
		Set("terminate_requested = TRUE").
		Set("woken_at = GREATEST(COALESCE(woken_at, ?0), ?0)", at).
		Where("id = ?", tID).
		Where("phase <> ?", string(task.PhaseFinished)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stepflow/bun: request termination: %w", err)
	}
	if affected(res) == 1 {
		return nil
	}
	if err := s.taskExists(ctx, tID); err != nil {
		return err
	}
	return stepflow.ErrTaskFinished
}

// taskExists returns stepflow.ErrTaskNotFound if no task has tID.
func (s *Store) taskExists(ctx context.Context, tID string) error {
	exists, err := s.db.NewSelect().Model((*taskModel)(nil)).Where("id = ?", tID).Exists(ctx)
	if err != nil {
		return fmt.Errorf("stepflow/bun: check task: %w", err)
	}
	if !exists {
		return stepflow.ErrTaskNotFound
	}
	return nil
}

func fromTaskModels(models []taskModel) ([]*task.Task, error) {
	tasks := make([]*task.Task, 0, len(models))
	for i := range models {
		t, err := fromTaskModel(&models[i])
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
