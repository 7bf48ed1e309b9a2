package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/lock"
	"github.com/xraph/stepflow/task"
)

// taskDoc encodes t without the fields owned by WakeTask and
// RequestTermination.
func taskDoc(t *task.Task) (string, error) {
	cp := *t
	cp.WokenAt = time.Time{}
	cp.TerminateRequested = false
	return encodeDoc(&cp)
}

// CreateTask persists a new task.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	doc, err := taskDoc(t)
	if err != nil {
		return err
	}
	terminate := ""
	if t.TerminateRequested {
		terminate = "1"
	}
	tID := t.ID.String()
	n, err := createTaskScript.Run(ctx, s.client,
		[]string{s.keys.task(tID), s.keys.tasksByCreated(), s.keys.openTasks()},
		doc, string(t.Phase), tID, score(t.CreatedAt), stamp(t.WokenAt), terminate,
	).Int()
	if err != nil {
		return fmt.Errorf("stepflow/redis: create task: %w", err)
	}
	if n == 0 {
		return stepflow.ErrTaskAlreadyExists
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	vals, err := s.client.HMGet(ctx, s.keys.task(taskID.String()), fieldDoc, "woken_at", "terminate").Result()
	if err != nil {
		return nil, fmt.Errorf("stepflow/redis: get task: %w", err)
	}
	t, err := decodeTask(vals)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, stepflow.ErrTaskNotFound
	}
	return t, nil
}

// decodeTask rebuilds a task from an HMGET of doc, woken_at and terminate.
// It returns nil for a missing key.
func decodeTask(vals []any) (*task.Task, error) {
	doc, ok := vals[0].(string)
	if !ok {
		return nil, nil
	}
	var t task.Task
	if err := json.Unmarshal([]byte(doc), &t); err != nil {
		return nil, fmt.Errorf("stepflow/redis: decode task: %w", err)
	}
	if v, ok := vals[1].(string); ok {
		t.WokenAt = parseStamp(v)
	}
	if v, ok := vals[2].(string); ok {
		t.TerminateRequested = v == "1"
	}
	return &t, nil
}

// UpdateTask persists changes to an existing task. The wake-up time and
// termination request are separate hash fields and are left untouched.
func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	cp := *t
	cp.UpdatedAt = s.clock()
	doc, err := taskDoc(&cp)
	if err != nil {
		return err
	}
	tID := t.ID.String()
	n, err := updateTaskScript.Run(ctx, s.client,
		[]string{s.keys.task(tID), s.keys.openTasks()},
		doc, string(t.Phase), tID,
	).Int()
	if err != nil {
		return fmt.Errorf("stepflow/redis: update task: %w", err)
	}
	if n == 0 {
		return stepflow.ErrTaskNotFound
	}
	return nil
}

// DeleteTask removes a task by ID.
func (s *Store) DeleteTask(ctx context.Context, taskID id.TaskID) error {
	tID := taskID.String()
	n, err := s.client.Del(ctx, s.keys.task(tID)).Result()
	if err != nil {
		return fmt.Errorf("stepflow/redis: delete task: %w", err)
	}
	if n == 0 {
		return stepflow.ErrTaskNotFound
	}
	pipe := s.client.TxPipeline()
	pipe.ZRem(ctx, s.keys.tasksByCreated(), tID)
	pipe.SRem(ctx, s.keys.openTasks(), tID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("stepflow/redis: delete task indexes: %w", err)
	}
	return nil
}

// loadTasks fetches tasks by ID in one pipeline, skipping IDs whose record
// is gone.
func (s *Store) loadTasks(ctx context.Context, taskIDs []string) ([]*task.Task, error) {
	if len(taskIDs) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*goredis.SliceCmd, len(taskIDs))
	for i, tID := range taskIDs {
		cmds[i] = pipe.HMGet(ctx, s.keys.task(tID), fieldDoc, "woken_at", "terminate")
	}
	if _, err := pipe.Exec(ctx); err != nil && !isNil(err) {
		return nil, fmt.Errorf("stepflow/redis: load tasks: %w", err)
	}
	tasks := make([]*task.Task, 0, len(taskIDs))
	for _, cmd := range cmds {
		t, err := decodeTask(cmd.Val())
		if err != nil {
			return nil, err
		}
		if t != nil {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// matchingTasks returns the tasks matching opts, oldest first.
func (s *Store) matchingTasks(ctx context.Context, opts task.ListOpts) ([]*task.Task, error) {
	// Members with equal scores sort by ID, matching the list order.
	taskIDs, err := s.client.ZRange(ctx, s.keys.tasksByCreated(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("stepflow/redis: list task ids: %w", err)
	}
	all, err := s.loadTasks(ctx, taskIDs)
	if err != nil {
		return nil, err
	}
	result := make([]*task.Task, 0, len(all))
	for _, t := range all {
		if opts.Match(t) {
			result = append(result, t)
		}
	}
	return result, nil
}

// ListTasks returns tasks matching opts, oldest first.
func (s *Store) ListTasks(ctx context.Context, opts task.ListOpts) ([]*task.Task, error) {
	result, err := s.matchingTasks(ctx, opts)
	if err != nil {
		return nil, err
	}
	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return []*task.Task{}, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// CountTasks returns the number of tasks matching opts.
func (s *Store) CountTasks(ctx context.Context, opts task.ListOpts) (int64, error) {
	result, err := s.matchingTasks(ctx, opts)
	if err != nil {
		return 0, err
	}
	return int64(len(result)), nil
}

// ListClaimable returns claim candidates ordered by priority then age.
// Only unfinished tasks are scanned; tasks whose step lock is live are
// skipped.
func (s *Store) ListClaimable(ctx context.Context, opts task.ClaimOpts) ([]*task.Task, error) {
	now := s.clock()
	if opts.Now.IsZero() {
		opts.Now = now
	}
	taskIDs, err := s.client.SMembers(ctx, s.keys.openTasks()).Result()
	if err != nil {
		return nil, fmt.Errorf("stepflow/redis: list open tasks: %w", err)
	}
	open, err := s.loadTasks(ctx, taskIDs)
	if err != nil {
		return nil, err
	}

	candidates := make([]*task.Task, 0, len(open))
	for _, t := range open {
		if opts.Match(t) {
			candidates = append(candidates, t)
		}
	}
	if len(candidates) == 0 {
		return candidates, nil
	}

	names := make([]string, len(candidates))
	for i, t := range candidates {
		names[i] = lock.TaskLockName(t.ID.String())
	}
	held, err := s.liveLocks(ctx, names, now)
	if err != nil {
		return nil, err
	}
	free := candidates[:0]
	for i, t := range candidates {
		if !held[i] {
			free = append(free, t)
		}
	}

	sort.Slice(free, func(i, k int) bool { return task.Less(free[i], free[k]) })
	if opts.Limit > 0 && len(free) > opts.Limit {
		free = free[:opts.Limit]
	}
	return free, nil
}

// WakeTask records a wake-up. Waking a finished task is a no-op.
func (s *Store) WakeTask(ctx context.Context, taskID id.TaskID, at time.Time) error {
	return s.wake(ctx, taskID, at, false)
}

// RequestTermination flags the task for termination and wakes it.
func (s *Store) RequestTermination(ctx context.Context, taskID id.TaskID, at time.Time) error {
	return s.wake(ctx, taskID, at, true)
}

func (s *Store) wake(ctx context.Context, taskID id.TaskID, at time.Time, terminate bool) error {
	flag := ""
	if terminate {
		flag = "1"
	}
	n, err := wakeTaskScript.Run(ctx, s.client,
		[]string{s.keys.task(taskID.String())},
		stamp(at), flag,
	).Int()
	if err != nil {
		return fmt.Errorf("stepflow/redis: wake task: %w", err)
	}
	switch n {
	case -1:
		return stepflow.ErrTaskNotFound
	case -2:
		return stepflow.ErrTaskFinished
	}
	return nil
}
