package mongo

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/stepflow"
	"github.com/xraph/stepflow/id"
	"github.com/xraph/stepflow/lock"
	"github.com/xraph/stepflow/task"
)

// CreateTask persists a new task.
func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	if _, err := s.col(colTasks).InsertOne(ctx, toTaskModel(t)); err != nil {
		if isDuplicateKey(err) {
			return stepflow.ErrTaskAlreadyExists
		}
		return fmt.Errorf("stepflow/mongo: create task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *Store) GetTask(ctx context.Context, taskID id.TaskID) (*task.Task, error) {
	var m taskModel
	err := s.col(colTasks).FindOne(ctx, bson.D{{Key: "_id", Value: taskID.String()}}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, stepflow.ErrTaskNotFound
		}
		return nil, fmt.Errorf("stepflow/mongo: get task: %w", err)
	}
	return fromTaskModel(&m)
}

// UpdateTask persists changes to an existing task. The wake-up time and
// termination request are left out of the update.
func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	m := toTaskModel(t)
	res, err := s.col(colTasks).UpdateOne(ctx,
		bson.D{{Key: "_id", Value: m.ID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "type", Value: m.Type},
			{Key: "state", Value: m.State},
			{Key: "phase", Value: m.Phase},
			{Key: "priority", Value: m.Priority},
			{Key: "group", Value: m.Group},
			{Key: "parent_id", Value: m.ParentID},
			{Key: "children", Value: m.Children},
			{Key: "object", Value: m.Object},
			{Key: "scratch", Value: m.Scratch},
			{Key: "counters", Value: m.Counters},
			{Key: "capabilities", Value: m.Capabilities},
			{Key: "skip_entry", Value: m.SkipEntry},
			{Key: "wait_until", Value: m.WaitUntil},
			{Key: "parked_at", Value: m.ParkedAt},
			{Key: "wake_seen", Value: m.WakeSeen},
			{Key: "last_outcome", Value: m.LastOutcome},
			{Key: "steps", Value: m.Steps},
			{Key: "exit_status", Value: m.ExitStatus},
			{Key: "exit_code", Value: m.ExitCode},
			{Key: "exit_message", Value: m.ExitMessage},
			{Key: "started_at", Value: m.StartedAt},
			{Key: "finished_at", Value: m.FinishedAt},
			{Key: "updated_at", Value: s.clock()},
		}}},
	)
	if err != nil {
		return fmt.Errorf("stepflow/mongo: update task: %w", err)
	}
	if res.MatchedCount == 0 {
		return stepflow.ErrTaskNotFound
	}
	return nil
}

// DeleteTask removes a task by ID.
func (s *Store) DeleteTask(ctx context.Context, taskID id.TaskID) error {
	res, err := s.col(colTasks).DeleteOne(ctx, bson.D{{Key: "_id", Value: taskID.String()}})
	if err != nil {
		return fmt.Errorf("stepflow/mongo: delete task: %w", err)
	}
	if res.DeletedCount == 0 {
		return stepflow.ErrTaskNotFound
	}
	return nil
}

// listFilter translates list options into a query document.
func listFilter(opts task.ListOpts) bson.D {
	f := bson.D{}
	if opts.Type != "" {
		f = append(f, bson.E{Key: "type", Value: opts.Type})
	}
	if opts.Group != "" {
		f = append(f, bson.E{Key: "group", Value: opts.Group})
	}
	if opts.Phase != "" {
		f = append(f, bson.E{Key: "phase", Value: string(opts.Phase)})
	}
	if opts.ExitStatus != "" {
		f = append(f, bson.E{Key: "exit_status", Value: string(opts.ExitStatus)})
	}
	if !opts.ParentID.IsNil() {
		f = append(f, bson.E{Key: "parent_id", Value: opts.ParentID.String()})
	}
	created := bson.D{}
	if !opts.CreatedAfter.IsZero() {
		created = append(created, bson.E{Key: "$gt", Value: opts.CreatedAfter})
	}
	if !opts.CreatedBefore.IsZero() {
		created = append(created, bson.E{Key: "$lt", Value: opts.CreatedBefore})
	}
	if len(created) > 0 {
		f = append(f, bson.E{Key: "created_at", Value: created})
	}
	return f
}

// ListTasks returns tasks matching opts, oldest first.
func (s *Store) ListTasks(ctx context.Context, opts task.ListOpts) ([]*task.Task, error) {
	findOpts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: 1},
		{Key: "_id", Value: 1},
	})
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	cursor, err := s.col(colTasks).Find(ctx, listFilter(opts), findOpts)
	if err != nil {
		return nil, fmt.Errorf("stepflow/mongo: list tasks: %w", err)
	}
	return decodeTasks(ctx, cursor)
}

// CountTasks returns the number of tasks matching opts.
func (s *Store) CountTasks(ctx context.Context, opts task.ListOpts) (int64, error) {
	n, err := s.col(colTasks).CountDocuments(ctx, listFilter(opts))
	if err != nil {
		return 0, fmt.Errorf("stepflow/mongo: count tasks: %w", err)
	}
	return n, nil
}

// ListClaimable returns claim candidates ordered by priority then age.
// The query narrows to runnable tasks in allowed groups; capability and
// lock checks run on the result.
func (s *Store) ListClaimable(ctx context.Context, opts task.ClaimOpts) ([]*task.Task, error) {
	now := s.clock()
	if opts.Now.IsZero() {
		opts.Now = now
	}
	skipPhases := bson.A{string(task.PhaseFinished)}
	if opts.NoNew {
		skipPhases = append(skipPhases, string(task.PhaseBeforeStart))
	}
	filter := bson.D{
		{Key: "phase", Value: bson.D{{Key: "$nin", Value: skipPhases}}},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "wait_until", Value: bson.D{{Key: "$lte", Value: opts.Now}}}},
			bson.D{{Key: "$expr", Value: bson.D{{Key: "$gt", Value: bson.A{"$woken_at", "$wake_seen"}}}}},
		}},
	}
	if len(opts.ExcludeGroups) > 0 {
		filter = append(filter, bson.E{Key: "group", Value: bson.D{{Key: "$nin", Value: opts.ExcludeGroups}}})
	}
	cursor, err := s.col(colTasks).Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("stepflow/mongo: list claimable: %w", err)
	}
	all, err := decodeTasks(ctx, cursor)
	if err != nil {
		return nil, err
	}

	candidates := make([]*task.Task, 0, len(all))
	names := make([]string, 0, len(all))
	for _, t := range all {
		if opts.Match(t) {
			candidates = append(candidates, t)
			names = append(names, lock.TaskLockName(t.ID.String()))
		}
	}
	held, err := s.liveLockNames(ctx, names, now)
	if err != nil {
		return nil, err
	}
	result := make([]*task.Task, 0, len(candidates))
	for _, t := range candidates {
		if !held[lock.TaskLockName(t.ID.String())] {
			result = append(result, t)
		}
	}
	sort.Slice(result, func(i, k int) bool { return task.Less(result[i], result[k]) })
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// WakeTask records a wake-up. Waking a finished task is a no-op.
func (s *Store) WakeTask(ctx context.Context, taskID id.TaskID, at time.Time) error {
	tID := taskID.String()
	res, err := s.col(colTasks).UpdateOne(ctx,
		bson.D{
			{Key: "_id", Value: tID},
			{Key: "phase", Value: bson.D{{Key: "$ne", Value: string(task.PhaseFinished)}}},
			{Key: "woken_at", Value: bson.D{{Key: "$lt", Value: at}}},
		},
		bson.D{{Key: "$set", Value: bson.D{{Key: "woken_at", Value: at}}}},
	)
	if err != nil {
		return fmt.Errorf("stepflow/mongo: wake task: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	if _, err := s.taskPhase(ctx, tID); err != nil {
		return err
	}
	return nil
}

// RequestTermination flags the task for termination and wakes it.
func (s *Store) RequestTermination(ctx context.Context, taskID id.TaskID, at time.Time) error {
	tID := taskID.String()
	res, err := s.col(colTasks).UpdateOne(ctx,
		bson.D{
			{Key: "_id", Value: tID},
			{Key: "phase", Value: bson.D{{Key: "$ne", Value: string(task.PhaseFinished)}}},
		},
		mongod.Pipeline{
			{{Key: "$set", Value: bson.D{
				{Key: "terminate_requested", Value: true},
				{Key: "woken_at", Value: bson.D{{Key: "$max", Value: bson.A{"$woken_at", at}}}},
			}}},
		},
	)
	if err != nil {
		return fmt.Errorf("stepflow/mongo: request termination: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	if _, err := s.taskPhase(ctx, tID); err != nil {
		return err
	}
	return stepflow.ErrTaskFinished
}

// taskPhase returns the phase of a task, or stepflow.ErrTaskNotFound.
func (s *Store) taskPhase(ctx context.Context, tID string) (task.Phase, error) {
	var m struct {
		Phase string `bson:"phase"`
	}
	err := s.col(colTasks).FindOne(ctx,
		bson.D{{Key: "_id", Value: tID}},
		options.FindOne().SetProjection(bson.D{{Key: "phase", Value: 1}}),
	).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return "", stepflow.ErrTaskNotFound
		}
		return "", fmt.Errorf("stepflow/mongo: get task phase: %w", err)
	}
	return task.Phase(m.Phase), nil
}

func decodeTasks(ctx context.Context, cursor *mongod.Cursor) ([]*task.Task, error) {
	defer cursor.Close(ctx)

	var models []taskModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("stepflow/mongo: decode tasks: %w", err)
	}
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
